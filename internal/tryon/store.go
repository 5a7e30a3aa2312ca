package tryon

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vtryon/backend/internal/ledger"
	"github.com/vtryon/backend/internal/models"
)

// TaskStore is the subset of repository.TaskRepo the orchestrators use.
// Lookups that match nothing return repository.ErrNotFound.
type TaskStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Create(ctx context.Context, t *models.Task) error
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	MarkProcessing(ctx context.Context, id uuid.UUID, progress int) (bool, error)
	LockActiveTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error)
	CompleteIfActiveTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, resultURL string, meta models.TaskMetadata) (bool, error)
	FailIfActive(ctx context.Context, id uuid.UUID, message string) (bool, error)
	FindLatestActive(ctx context.Context, userID uuid.UUID, since time.Time) (*models.Task, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Task, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// QuotaLedger is the subset of *ledger.Ledger the orchestrators use.
type QuotaLedger interface {
	CheckUser(ctx context.Context, userID uuid.UUID) (ledger.Decision, error)
	Deduct(ctx context.Context, userID, taskID uuid.UUID) (ledger.Deduction, error)
	DeductTx(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID) (ledger.Deduction, error)
}

// ResultMirror copies a provider-hosted result into our own storage. Delete
// drops a copy whose task was completed by someone else.
type ResultMirror interface {
	Mirror(ctx context.Context, taskID uuid.UUID, sourceURL string) (key string, url string, err error)
	Delete(ctx context.Context, key string) error
}

// DeductionListener is told after a deduction commits. The quota display
// cache uses it to drop stale snapshots.
type DeductionListener interface {
	Invalidate(ctx context.Context, userID uuid.UUID)
}
