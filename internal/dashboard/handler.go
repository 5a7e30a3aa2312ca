package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/vtryon/backend/internal/auth"
	"github.com/vtryon/backend/internal/ledger"
	"github.com/vtryon/backend/internal/middleware"
	"github.com/vtryon/backend/internal/models"
	"github.com/vtryon/backend/internal/repository"
)

type UserGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type APIKeyStore interface {
	Create(ctx context.Context, k *models.APIKey) error
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	Revoke(ctx context.Context, userID, keyID uuid.UUID) error
}

type BalanceReader interface {
	Balance(ctx context.Context, userID uuid.UUID) (ledger.Balance, error)
}

// Handler serves the account page: profile, balance and external API keys.
type Handler struct {
	users   UserGetter
	apiKeys APIKeyStore
	quota   BalanceReader
	log     *slog.Logger
}

func NewHandler(users UserGetter, apiKeys APIKeyStore, quota BalanceReader, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{users: users, apiKeys: apiKeys, quota: quota, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id := middleware.UserIDFromCtx(r.Context())
	if id == uuid.Nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return uuid.Nil, false
	}
	return id, true
}

// GET /api/v1/account/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	u, err := h.users.GetByID(r.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		h.log.Error("get user failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	b, err := h.quota.Balance(r.Context(), id)
	if err != nil {
		h.log.Error("get balance failed", "user_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": map[string]any{
		"id":                 u.ID,
		"email":              u.Email,
		"name":               u.Name,
		"subscription_type":  u.SubscriptionType,
		"premium_expires_at": u.PremiumExpiresAt,
		"quota":              b,
		"created_at":         u.CreatedAt,
	}})
}

// GET /api/v1/api-keys
func (h *Handler) ListAPIKeys(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	keys, err := h.apiKeys.ListByUser(r.Context(), id)
	if err != nil {
		h.log.Error("list api keys failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if keys == nil {
		keys = []*models.APIKey{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "data": keys})
}

// POST /api/v1/api-keys. The raw key is only ever returned here.
func (h *Handler) CreateAPIKey(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	raw, k, err := auth.GenerateAPIKey(id)
	if err != nil {
		h.log.Error("generate api key failed", "error", err)
		writeError(w, http.StatusInternalServerError, "key generation failed")
		return
	}
	if err := h.apiKeys.Create(r.Context(), k); err != nil {
		h.log.Error("create api key failed", "error", err)
		writeError(w, http.StatusInternalServerError, "create failed")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "data": map[string]any{
		"id":         k.ID,
		"key_prefix": k.KeyPrefix,
		"is_active":  k.IsActive,
		"raw_key":    raw,
	}})
}

// DELETE /api/v1/api-keys/{id}
func (h *Handler) DeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}
	keyID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key ID")
		return
	}
	if err := h.apiKeys.Revoke(r.Context(), id, keyID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "API key not found")
			return
		}
		h.log.Error("revoke api key failed", "error", err)
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
