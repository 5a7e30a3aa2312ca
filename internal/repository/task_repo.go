package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vtryon/backend/internal/models"
)

// TaskRepo is the task store. Every transition out of a non-terminal status
// is a conditional UPDATE so a terminal row is never rewritten.
type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

const taskColumns = `id, user_id, category, user_image_url, item_image_url, COALESCE(prompt, ''), status, progress,
	result_image_url, error_message, metadata, expires_at, created_at, updated_at`

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.UserID, &t.Category, &t.UserImageURL, &t.ItemImageURL, &t.Prompt, &t.Status, &t.Progress,
		&t.ResultImageURL, &t.ErrorMessage, &t.Metadata, &t.ExpiresAt, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TaskRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *TaskRepo) Create(ctx context.Context, t *models.Task) error {
	return r.create(ctx, r.pool, t)
}

// CreateTx inserts the task inside the caller's transaction.
func (r *TaskRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error {
	return r.create(ctx, tx, t)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *TaskRepo) create(ctx context.Context, q queryRower, t *models.Task) error {
	return q.QueryRow(ctx, `
		INSERT INTO tasks (id, user_id, category, user_image_url, item_image_url, prompt, status, progress,
		                   result_image_url, error_message, metadata, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`, t.ID, t.UserID, t.Category, t.UserImageURL, t.ItemImageURL, t.Prompt, t.Status, t.Progress,
		t.ResultImageURL, t.ErrorMessage, t.Metadata, t.ExpiresAt).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return scanTask(r.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

// MarkProcessing moves a pending task to processing and records progress.
// Progress never moves backwards.
func (r *TaskRepo) MarkProcessing(ctx context.Context, id uuid.UUID, progress int) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET status = 'processing', progress = GREATEST(progress, $2), updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id, progress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// LockActiveTx takes the row lock on a non-terminal task for the rest of tx.
// It reports false when the task is already terminal, including when it
// became terminal while this call waited for the lock.
func (r *TaskRepo) LockActiveTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (bool, error) {
	var one int
	err := tx.QueryRow(ctx, `
		SELECT 1 FROM tasks
		WHERE id = $1 AND status IN ('pending', 'processing')
		FOR UPDATE
	`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CompleteIfActiveTx writes the result only if the task is still
// non-terminal and reports whether this call performed the transition. The
// row stays locked until tx ends, so a concurrent completion waits and then
// matches nothing. tryon's memTasks fake copies this guard.
func (r *TaskRepo) CompleteIfActiveTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, resultURL string, meta models.TaskMetadata) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE tasks
		SET status = 'completed', progress = 100, result_image_url = $2, error_message = NULL,
		    metadata = $3, updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id, resultURL, meta)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FailIfActive records a failure only if the task is still non-terminal.
func (r *TaskRepo) FailIfActive(ctx context.Context, id uuid.UUID, message string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks
		SET status = 'failed', error_message = $2, updated_at = now()
		WHERE id = $1 AND status IN ('pending', 'processing')
	`, id, message)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// FindLatestActive returns the user's newest non-terminal task created after
// since, or ErrNotFound.
func (r *TaskRepo) FindLatestActive(ctx context.Context, userID uuid.UUID, since time.Time) (*models.Task, error) {
	return scanTask(r.pool.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE user_id = $1 AND status IN ('pending', 'processing') AND created_at > $2
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, since))
}

func (r *TaskRepo) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []*models.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

// ExpiredTask identifies a row removed by DeleteExpired.
type ExpiredTask struct {
	ID              uuid.UUID
	ResultObjectKey string
}

// DeleteExpired removes up to limit tasks whose retention deadline passed.
func (r *TaskRepo) DeleteExpired(ctx context.Context, now time.Time, limit int) ([]ExpiredTask, error) {
	rows, err := r.pool.Query(ctx, `
		DELETE FROM tasks
		WHERE id IN (
			SELECT id FROM tasks WHERE expires_at IS NOT NULL AND expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
		)
		RETURNING id, COALESCE(metadata->>'result_object_key', '')
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ExpiredTask
	for rows.Next() {
		var e ExpiredTask
		if err := rows.Scan(&e.ID, &e.ResultObjectKey); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *TaskRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, "DELETE FROM tasks WHERE id = $1", id)
	return err
}
