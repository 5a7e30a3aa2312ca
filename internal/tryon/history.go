package tryon

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vtryon/backend/internal/models"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// ObjectDeleter removes stored result images.
type ObjectDeleter interface {
	Delete(ctx context.Context, key string) error
}

// History serves the caller's past tasks.
type History struct {
	store   TaskStore
	poller  *Poller
	objects ObjectDeleter
	logger  *slog.Logger
}

func NewHistory(store TaskStore, poller *Poller, objects ObjectDeleter, logger *slog.Logger) *History {
	if logger == nil {
		logger = slog.Default()
	}
	return &History{store: store, poller: poller, objects: objects, logger: logger}
}

// ListHistory returns the user's tasks newest first.
func (h *History) ListHistory(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Task, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	return h.store.ListByUser(ctx, userID, limit)
}

func (h *History) Get(ctx context.Context, userID, taskID uuid.UUID) (*models.Task, error) {
	return h.poller.Load(ctx, userID, taskID)
}

// Delete removes an owned task and its stored result image.
func (h *History) Delete(ctx context.Context, userID, taskID uuid.UUID) error {
	t, err := h.poller.Load(ctx, userID, taskID)
	if err != nil {
		return err
	}
	if err := h.store.Delete(ctx, t.ID); err != nil {
		return err
	}
	if key := t.Metadata.ResultObjectKey; key != "" && h.objects != nil {
		if err := h.objects.Delete(ctx, key); err != nil {
			h.logger.Warn("failed to delete result object", "task_id", t.ID, "key", key, "error", err)
		}
	}
	return nil
}
