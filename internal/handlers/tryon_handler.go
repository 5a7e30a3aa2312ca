package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/vtryon/backend/internal/ledger"
	"github.com/vtryon/backend/internal/middleware"
	"github.com/vtryon/backend/internal/models"
	"github.com/vtryon/backend/internal/tryon"
)

// TaskSubmitter starts a try-on generation.
type TaskSubmitter interface {
	Submit(ctx context.Context, in tryon.SubmitInput) (*tryon.SubmitOutput, error)
}

// ResultReconciler advances a task and bills a new completion.
type ResultReconciler interface {
	Reconcile(ctx context.Context, userID, taskID uuid.UUID) (*tryon.Result, error)
}

// TaskResumer finds the task a reconnecting client should keep polling.
type TaskResumer interface {
	FindResumable(ctx context.Context, userID uuid.UUID) (*models.Task, error)
}

// TaskHistory lists and removes a user's past tasks.
type TaskHistory interface {
	ListHistory(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Task, error)
	Get(ctx context.Context, userID, taskID uuid.UUID) (*models.Task, error)
	Delete(ctx context.Context, userID, taskID uuid.UUID) error
}

// QuotaReader returns a display balance.
type QuotaReader interface {
	Balance(ctx context.Context, userID uuid.UUID) (ledger.Balance, error)
}

// TryOnHandler serves the session and external try-on endpoints.
type TryOnHandler struct {
	Submitter TaskSubmitter
	Poller    ResultReconciler
	Recoverer TaskResumer
	History   TaskHistory
	Quota     QuotaReader
	Logger    *slog.Logger
}

func (h *TryOnHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, map[string]any{"success": true, "data": data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

// writeServiceError maps orchestrator errors to HTTP codes. External callers
// see foreign tasks as not found.
func (h *TryOnHandler) writeServiceError(w http.ResponseWriter, err error, external bool) {
	var quotaErr *tryon.QuotaExhaustedError
	switch {
	case errors.As(err, &quotaErr):
		writeError(w, http.StatusForbidden, quotaErr.Reason)
	case errors.Is(err, tryon.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, tryon.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "Task not found")
	case errors.Is(err, tryon.ErrForbidden):
		if external {
			writeError(w, http.StatusNotFound, "Task not found")
			return
		}
		writeError(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, ledger.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, tryon.ErrProviderUnavailable):
		writeError(w, http.StatusBadGateway, "Try-on provider unavailable, please retry")
	default:
		h.logger().Error("try-on request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func currentUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id := middleware.UserIDFromCtx(r.Context())
	if id == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return uuid.Nil, false
	}
	return id, true
}

// --- POST /api/v1/try-on/submit, POST /v1/external/try-on ---

type submitRequest struct {
	UserImageURL string `json:"userImageUrl"`
	ItemImageURL string `json:"itemImageUrl"`
	Type         string `json:"type"`
	Prompt       string `json:"prompt"`
}

func (h *TryOnHandler) Submit(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	out, err := h.Submitter.Submit(r.Context(), tryon.SubmitInput{
		UserID:       userID,
		UserImageURL: req.UserImageURL,
		ItemImageURL: req.ItemImageURL,
		Category:     req.Type,
		Prompt:       req.Prompt,
	})
	if err != nil {
		h.writeServiceError(w, err, middleware.ViaAPIKey(r.Context()))
		return
	}
	status := http.StatusOK
	if out.IsAsync && !models.IsTerminalStatus(out.Status) {
		status = http.StatusAccepted
	}
	writeData(w, status, out)
}

// --- POST /api/v1/try-on/poll ---

type pollRequest struct {
	TaskID string `json:"taskId"`
}

func (h *TryOnHandler) Poll(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req pollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	taskID, err := uuid.Parse(req.TaskID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid taskId")
		return
	}
	res, err := h.Poller.Reconcile(r.Context(), userID, taskID)
	if err != nil {
		h.writeServiceError(w, err, false)
		return
	}
	writeData(w, http.StatusOK, res)
}

// --- GET /api/v1/try-on/pending-tasks ---

type pendingTask struct {
	TaskID    uuid.UUID `json:"taskId"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	IsAsync   bool      `json:"isAsync"`
	Provider  string    `json:"provider"`
}

func (h *TryOnHandler) PendingTasks(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	t, err := h.Recoverer.FindResumable(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err, false)
		return
	}
	out := []pendingTask{}
	if t != nil {
		out = append(out, pendingTask{
			TaskID:    t.ID,
			Status:    t.Status,
			CreatedAt: t.CreatedAt,
			IsAsync:   t.Metadata.IsAsync,
			Provider:  t.Metadata.Provider,
		})
	}
	writeData(w, http.StatusOK, out)
}

// --- GET /api/v1/try-on/history ---

func (h *TryOnHandler) ListHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	tasks, err := h.History.ListHistory(r.Context(), userID, limit)
	if err != nil {
		h.writeServiceError(w, err, false)
		return
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	writeData(w, http.StatusOK, tasks)
}

// --- GET /api/v1/try-on/{id} ---

func (h *TryOnHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	t, err := h.History.Get(r.Context(), userID, taskID)
	if err != nil {
		h.writeServiceError(w, err, false)
		return
	}
	writeData(w, http.StatusOK, t)
}

// --- DELETE /api/v1/try-on/{id} ---

func (h *TryOnHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	taskID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	if err := h.History.Delete(r.Context(), userID, taskID); err != nil {
		h.writeServiceError(w, err, false)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"deleted": taskID})
}

// --- GET /api/v1/quota ---

func (h *TryOnHandler) GetQuota(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	b, err := h.Quota.Balance(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err, false)
		return
	}
	writeData(w, http.StatusOK, b)
}

// --- GET /v1/external/try-on/{taskId} ---

type externalResult struct {
	TaskID         uuid.UUID `json:"taskId"`
	Status         string    `json:"status"`
	ResultImageURL string    `json:"resultImageUrl,omitempty"`
	Progress       int       `json:"progress"`
	Error          string    `json:"error,omitempty"`
}

func (h *TryOnHandler) ExternalResult(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	taskID, err := uuid.Parse(r.PathValue("taskId"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	res, err := h.Poller.Reconcile(r.Context(), userID, taskID)
	if err != nil {
		h.writeServiceError(w, err, true)
		return
	}
	writeData(w, http.StatusOK, externalResult{
		TaskID:         res.TaskID,
		Status:         res.Status,
		ResultImageURL: res.ResultImageURL,
		Progress:       res.Progress,
		Error:          res.Error,
	})
}
