package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vtryon/backend/internal/models"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrQuotaExhausted   = errors.New("quota exhausted")
	ErrAlreadyDeducted  = errors.New("quota already deducted for task")
	ErrDeductContention = errors.New("quota deduction lost too many concurrent updates")
)

const (
	reasonSubscriber = "No remaining quota. Please purchase a credits pack."
	reasonFree       = "No remaining quota. Please purchase a credits pack or upgrade to Standard."
)

// maxDeductAttempts bounds how many times a lost compare-and-swap is re-planned.
const maxDeductAttempts = 3

// Bucket names the quota source a single usage unit was taken from.
type Bucket string

const (
	BucketCredits      Bucket = "credits"
	BucketSubscription Bucket = "subscription"
	BucketFreeTrial    Bucket = "free_trial"
)

// Limits are the configured allowances.
type Limits struct {
	FreeTrial int
	Monthly   int
	Yearly    int
}

func DefaultLimits() Limits {
	return Limits{FreeTrial: 1, Monthly: 90, Yearly: 1260}
}

// Allowance returns the per-period allowance for a subscription type.
func (l Limits) Allowance(subscriptionType string) int {
	if subscriptionType == models.SubscriptionYearly {
		return l.Yearly
	}
	return l.Monthly
}

type Decision struct {
	Allowed bool
	Reason  string
	Balance Balance
}

type Balance struct {
	Free         int  `json:"freeTrialsRemaining"`
	Subscription int  `json:"subscriptionRemaining"`
	Credits      int  `json:"creditsRemaining"`
	Total        int  `json:"remaining"`
	Active       bool `json:"subscriptionActive"`
}

type Deduction struct {
	UserID uuid.UUID
	TaskID uuid.UUID
	Bucket Bucket
}

// Store is the persistence the ledger needs. Repository implements it against Postgres.
type Store interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
	GetUserTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (*models.User, error)
	UsageExistsTx(ctx context.Context, tx pgx.Tx, taskID uuid.UUID) (bool, error)
	ConsumeTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, bucket Bucket, limits Limits, now time.Time) (bool, error)
	RecordUsageTx(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID, bucket Bucket) (bool, error)
	RepairNegativeCounters(ctx context.Context) (int64, error)
}

type Ledger struct {
	store  Store
	limits Limits
	now    func() time.Time
	logger *slog.Logger
}

func New(store Store, limits Limits, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{store: store, limits: limits, now: time.Now, logger: logger}
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// Remaining computes the user's balance with every counter clamped to >= 0.
func (l *Ledger) Remaining(u *models.User, now time.Time) Balance {
	b := Balance{
		Credits: clamp(clamp(u.CreditsPurchased) - clamp(u.CreditsUsed)),
		Active:  u.SubscriptionActive(now),
	}
	if b.Active {
		b.Subscription = clamp(l.limits.Allowance(u.SubscriptionType) - clamp(u.PremiumUsageCount))
	} else {
		b.Free = clamp(l.limits.FreeTrial - clamp(u.FreeTrialsUsed))
	}
	b.Total = b.Free + b.Subscription + b.Credits
	return b
}

// Check reports whether u may start one more generation. It has no side effects.
func (l *Ledger) Check(u *models.User, now time.Time) Decision {
	b := l.Remaining(u, now)
	if b.Total > 0 {
		return Decision{Allowed: true, Balance: b}
	}
	if b.Active {
		return Decision{Reason: reasonSubscriber, Balance: b}
	}
	return Decision{Reason: reasonFree, Balance: b}
}

// CheckUser re-reads the user's quota state and runs Check against it.
func (l *Ledger) CheckUser(ctx context.Context, userID uuid.UUID) (Decision, error) {
	u, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return Decision{}, err
	}
	return l.Check(u, l.now()), nil
}

// Balance returns the current balance for userID.
func (l *Ledger) Balance(ctx context.Context, userID uuid.UUID) (Balance, error) {
	u, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return Balance{}, err
	}
	return l.Remaining(u, l.now()), nil
}

// plan picks the bucket a deduction should come from: purchased credits first,
// then the subscription allowance, then the free trial.
func (l *Ledger) plan(u *models.User, now time.Time) (Bucket, bool) {
	b := l.Remaining(u, now)
	switch {
	case b.Credits > 0:
		return BucketCredits, true
	case b.Active && b.Subscription > 0:
		return BucketSubscription, true
	case !b.Active && b.Free > 0:
		return BucketFreeTrial, true
	}
	return "", false
}

// Deduct takes one unit of quota for taskID in its own transaction.
func (l *Ledger) Deduct(ctx context.Context, userID, taskID uuid.UUID) (Deduction, error) {
	tx, err := l.store.Begin(ctx)
	if err != nil {
		return Deduction{}, err
	}
	defer tx.Rollback(ctx)

	d, err := l.DeductTx(ctx, tx, userID, taskID)
	if err != nil {
		return Deduction{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Deduction{}, err
	}
	return d, nil
}

// DeductTx runs inside the caller's transaction, under a savepoint that is
// rolled back on any error. ErrQuotaExhausted and ErrAlreadyDeducted leave tx
// usable; other errors mean tx must be rolled back.
func (l *Ledger) DeductTx(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID) (Deduction, error) {
	sp, err := tx.Begin(ctx)
	if err != nil {
		return Deduction{}, err
	}
	d, err := l.deduct(ctx, sp, userID, taskID)
	if err != nil {
		sp.Rollback(ctx)
		return Deduction{}, err
	}
	if err := sp.Commit(ctx); err != nil {
		return Deduction{}, err
	}
	return d, nil
}

func (l *Ledger) deduct(ctx context.Context, tx pgx.Tx, userID, taskID uuid.UUID) (Deduction, error) {
	exists, err := l.store.UsageExistsTx(ctx, tx, taskID)
	if err != nil {
		return Deduction{}, err
	}
	if exists {
		return Deduction{}, ErrAlreadyDeducted
	}

	for attempt := 1; attempt <= maxDeductAttempts; attempt++ {
		u, err := l.store.GetUserTx(ctx, tx, userID)
		if err != nil {
			return Deduction{}, err
		}
		now := l.now()
		bucket, ok := l.plan(u, now)
		if !ok {
			return Deduction{}, ErrQuotaExhausted
		}
		applied, err := l.store.ConsumeTx(ctx, tx, userID, bucket, l.limits, now)
		if err != nil {
			return Deduction{}, fmt.Errorf("consume %s: %w", bucket, err)
		}
		if !applied {
			l.logger.Warn("quota bucket changed underneath deduction, replanning",
				"user_id", userID, "task_id", taskID, "bucket", bucket, "attempt", attempt)
			continue
		}
		recorded, err := l.store.RecordUsageTx(ctx, tx, userID, taskID, bucket)
		if err != nil {
			return Deduction{}, fmt.Errorf("record usage: %w", err)
		}
		if !recorded {
			return Deduction{}, ErrAlreadyDeducted
		}
		return Deduction{UserID: userID, TaskID: taskID, Bucket: bucket}, nil
	}
	return Deduction{}, ErrDeductContention
}

// RepairNegativeCounters clamps historically corrupted counters back to zero.
func (l *Ledger) RepairNegativeCounters(ctx context.Context) (int64, error) {
	return l.store.RepairNegativeCounters(ctx)
}
