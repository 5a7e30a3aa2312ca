package tryon

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/vtryon/backend/internal/models"
	"github.com/vtryon/backend/internal/repository"
)

// Recoverer finds the task a reconnecting client should resume polling.
type Recoverer struct {
	store  TaskStore
	window time.Duration
	now    func() time.Time
}

func NewRecoverer(store TaskStore, window time.Duration) *Recoverer {
	if window <= 0 {
		window = 30 * time.Minute
	}
	return &Recoverer{store: store, window: window, now: time.Now}
}

// FindResumable returns the user's newest pending or processing task created
// within the recovery window, or nil. Older tasks are treated as abandoned.
func (r *Recoverer) FindResumable(ctx context.Context, userID uuid.UUID) (*models.Task, error) {
	t, err := r.store.FindLatestActive(ctx, userID, r.now().Add(-r.window))
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}
