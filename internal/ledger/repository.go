package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vtryon/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

const selectQuotaUser = `
	SELECT id, email, free_trials_used, credits_purchased, credits_used,
	       is_premium, premium_expires_at, COALESCE(subscription_type, ''), premium_usage_count
	FROM users WHERE id = $1`

func scanQuotaUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.FreeTrialsUsed, &u.CreditsPurchased, &u.CreditsUsed,
		&u.IsPremium, &u.PremiumExpiresAt, &u.SubscriptionType, &u.PremiumUsageCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

func (r *Repository) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return scanQuotaUser(r.pool.QueryRow(ctx, selectQuotaUser, userID))
}

func (r *Repository) GetUserTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.User, error) {
	return scanQuotaUser(tx.QueryRow(ctx, selectQuotaUser, userID))
}

func (r *Repository) UsageExistsTx(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM quota_usage WHERE task_id = $1)`, taskID).Scan(&exists)
	return exists, err
}

// ConsumeTx increments the counter for bucket only if the bucket still has room.
// The WHERE clause re-asserts availability so a concurrent deduction that drained
// the bucket makes this a no-op (false) instead of a lost update. The test
// fakes (memStore, tryon's memQuota) copy these conditions.
func (r *Repository) ConsumeTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, bucket Bucket, limits Limits, now time.Time) (bool, error) {
	var (
		sql  string
		args []any
	)
	switch bucket {
	case BucketCredits:
		sql = `
			UPDATE users
			SET credits_used = GREATEST(credits_used, 0) + 1, updated_at = $2
			WHERE id = $1 AND GREATEST(credits_purchased, 0) - GREATEST(credits_used, 0) > 0`
		args = []any{userID, now}
	case BucketSubscription:
		sql = `
			UPDATE users
			SET premium_usage_count = GREATEST(premium_usage_count, 0) + 1, updated_at = $2
			WHERE id = $1
			  AND is_premium
			  AND subscription_type IS NOT NULL AND subscription_type <> ''
			  AND (premium_expires_at IS NULL OR premium_expires_at > $2)
			  AND (CASE WHEN subscription_type = $3 THEN $4::int ELSE $5::int END)
			      - GREATEST(premium_usage_count, 0) > 0`
		args = []any{userID, now, models.SubscriptionYearly, limits.Yearly, limits.Monthly}
	case BucketFreeTrial:
		sql = `
			UPDATE users
			SET free_trials_used = GREATEST(free_trials_used, 0) + 1, updated_at = $2
			WHERE id = $1
			  AND NOT (is_premium
			           AND subscription_type IS NOT NULL AND subscription_type <> ''
			           AND (premium_expires_at IS NULL OR premium_expires_at > $2))
			  AND $3::int - GREATEST(free_trials_used, 0) > 0`
		args = []any{userID, now, limits.FreeTrial}
	default:
		return false, fmt.Errorf("unknown bucket %q", bucket)
	}
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) RecordUsageTx(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID, bucket Bucket) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO quota_usage (user_id, task_id, bucket)
		VALUES ($1, $2, $3)
		ON CONFLICT (task_id) DO NOTHING
	`, userID, taskID, string(bucket))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) RepairNegativeCounters(ctx context.Context) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE users
		SET free_trials_used = GREATEST(free_trials_used, 0),
		    credits_used = GREATEST(credits_used, 0),
		    credits_purchased = GREATEST(credits_purchased, 0),
		    premium_usage_count = GREATEST(premium_usage_count, 0),
		    updated_at = NOW()
		WHERE free_trials_used < 0 OR credits_used < 0 OR credits_purchased < 0 OR premium_usage_count < 0
	`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
