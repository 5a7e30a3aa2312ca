package tryon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vtryon/backend/internal/ledger"
	"github.com/vtryon/backend/internal/models"
	"github.com/vtryon/backend/internal/provider"
)

type SubmitInput struct {
	UserID       uuid.UUID
	UserImageURL string
	ItemImageURL string
	Category     string
	Prompt       string
}

type SubmitOutput struct {
	TaskID         uuid.UUID `json:"taskId"`
	Status         string    `json:"status"`
	ResultImageURL string    `json:"resultImageUrl,omitempty"`
	Error          string    `json:"error,omitempty"`
	IsAsync        bool      `json:"isAsync"`
	Provider       string    `json:"provider"`
}

type SubmitterConfig struct {
	SyncTimeout  time.Duration
	AsyncTimeout time.Duration
	Retention    time.Duration
}

type Submitter struct {
	store     TaskStore
	ledger    QuotaLedger
	providers Providers
	listener  DeductionListener
	cfg       SubmitterConfig
	logger    *slog.Logger
	now       func() time.Time
}

func NewSubmitter(store TaskStore, l QuotaLedger, providers Providers, listener DeductionListener, cfg SubmitterConfig, logger *slog.Logger) *Submitter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 60 * time.Second
	}
	if cfg.AsyncTimeout <= 0 {
		cfg.AsyncTimeout = 15 * time.Second
	}
	return &Submitter{store: store, ledger: l, providers: providers, listener: listener, cfg: cfg, logger: logger, now: time.Now}
}

func validImageURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Submit checks quota, dispatches to a provider and persists the task. A
// synchronous success is billed in the same transaction that stores it.
func (s *Submitter) Submit(ctx context.Context, in SubmitInput) (*SubmitOutput, error) {
	category, ok := models.ParseCategory(in.Category)
	if !ok {
		return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, in.Category)
	}
	if !validImageURL(in.UserImageURL) || !validImageURL(in.ItemImageURL) {
		return nil, fmt.Errorf("%w: user and item images must be http(s) URLs", ErrInvalidInput)
	}
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		prompt = DefaultPrompt(category)
	}

	decision, err := s.ledger.CheckUser(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		return nil, &QuotaExhaustedError{Reason: decision.Reason}
	}

	p, err := s.providers.Select(decision.Balance.Active)
	if err != nil {
		return nil, err
	}

	timeout := s.cfg.AsyncTimeout
	if p.Mode() == provider.ModeSync {
		timeout = s.cfg.SyncTimeout
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	taskID := uuid.New()
	start := s.now()
	res, err := p.Submit(pctx, provider.SubmitRequest{
		TaskID:       taskID,
		UserImageURL: strings.TrimSpace(in.UserImageURL),
		ItemImageURL: strings.TrimSpace(in.ItemImageURL),
		Category:     category,
		Prompt:       prompt,
	})
	if err != nil {
		if errors.Is(err, provider.ErrTransport) || errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("provider submit failed", "provider", p.Name(), "user_id", in.UserID, "error", err)
			return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
		}
		return nil, err
	}

	now := s.now()
	task := &models.Task{
		ID:           taskID,
		UserID:       in.UserID,
		Category:     category,
		UserImageURL: strings.TrimSpace(in.UserImageURL),
		ItemImageURL: strings.TrimSpace(in.ItemImageURL),
		Prompt:       prompt,
		Metadata: models.TaskMetadata{
			Provider:        p.Name(),
			IsAsync:         p.Mode() == provider.ModeAsync,
			ProviderTaskID:  res.ProviderTaskID,
			Description:     res.Description,
			ResultObjectKey: res.ResultObjectKey,
		},
	}
	if s.cfg.Retention > 0 {
		exp := now.Add(s.cfg.Retention)
		task.ExpiresAt = &exp
	}

	switch res.Status {
	case provider.StatusCompleted:
		task.Metadata.GenerationMs = now.Sub(start).Milliseconds()
		if err := s.storeCompleted(ctx, task, res.ResultImageURL); err != nil {
			return nil, err
		}
	case provider.StatusFailed:
		task.Status = models.TaskStatusFailed
		msg := res.Error
		task.ErrorMessage = &msg
		if err := s.store.Create(ctx, task); err != nil {
			return nil, fmt.Errorf("store failed task: %w", err)
		}
		s.logger.Warn("provider rejected try-on", "task_id", taskID, "provider", p.Name(), "error", res.Error)
	default:
		if res.ProviderTaskID == "" {
			return nil, fmt.Errorf("%w: provider returned no task handle", ErrProviderUnavailable)
		}
		task.Status = models.TaskStatusPending
		if err := s.store.Create(ctx, task); err != nil {
			return nil, fmt.Errorf("store pending task: %w", err)
		}
		s.logger.Info("async try-on submitted", "task_id", taskID, "provider", p.Name(), "provider_task_id", res.ProviderTaskID)
	}

	out := &SubmitOutput{
		TaskID:   task.ID,
		Status:   task.Status,
		IsAsync:  task.Status == models.TaskStatusPending,
		Provider: p.Name(),
	}
	if task.ResultImageURL != nil {
		out.ResultImageURL = *task.ResultImageURL
	}
	if task.ErrorMessage != nil {
		out.Error = *task.ErrorMessage
	}
	return out, nil
}

// storeCompleted inserts a synchronously completed task and bills it in one
// transaction.
func (s *Submitter) storeCompleted(ctx context.Context, task *models.Task, resultURL string) error {
	task.Status = models.TaskStatusCompleted
	task.Progress = 100
	task.ResultImageURL = &resultURL

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.store.CreateTx(ctx, tx, task); err != nil {
		return fmt.Errorf("store completed task: %w", err)
	}
	d, err := s.ledger.DeductTx(ctx, tx, task.UserID, task.ID)
	if err != nil && !errors.Is(err, ledger.ErrQuotaExhausted) {
		return fmt.Errorf("deduct quota: %w", err)
	}
	billed := err == nil
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	if billed {
		s.logger.Info("sync try-on completed", "task_id", task.ID, "bucket", d.Bucket)
	} else {
		s.logger.Warn("quota drained during generation, result delivered unbilled", "task_id", task.ID, "user_id", task.UserID)
	}
	if s.listener != nil {
		s.listener.Invalidate(ctx, task.UserID)
	}
	return nil
}
