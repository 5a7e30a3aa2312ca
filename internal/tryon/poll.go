package tryon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vtryon/backend/internal/ledger"
	"github.com/vtryon/backend/internal/models"
	"github.com/vtryon/backend/internal/provider"
	"github.com/vtryon/backend/internal/repository"
)

const msgAbandoned = "task abandoned"

type Result struct {
	TaskID          uuid.UUID `json:"taskId"`
	Status          string    `json:"status"`
	ResultImageURL  string    `json:"resultImageUrl,omitempty"`
	Error           string    `json:"error,omitempty"`
	Progress        int       `json:"progress"`
	IsNewCompletion bool      `json:"isNewCompletion"`
}

func resultFromTask(t *models.Task) *Result {
	r := &Result{TaskID: t.ID, Status: t.Status, Progress: t.Progress}
	if t.ResultImageURL != nil {
		r.ResultImageURL = *t.ResultImageURL
	}
	if t.ErrorMessage != nil {
		r.Error = *t.ErrorMessage
	}
	return r
}

type PollerConfig struct {
	PollTimeout    time.Duration
	RecoveryWindow time.Duration
}

// Poller advances a task by asking its provider for progress. Only the
// caller whose conditional write moves the task to completed sees
// IsNewCompletion.
type Poller struct {
	store     TaskStore
	ledger    QuotaLedger
	providers Providers
	mirror    ResultMirror
	listener  DeductionListener
	cfg       PollerConfig
	logger    *slog.Logger
	now       func() time.Time
}

// NewPoller builds a Poller. mirror and listener are optional.
func NewPoller(store TaskStore, l QuotaLedger, providers Providers, mirror ResultMirror, listener DeductionListener, cfg PollerConfig, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 15 * time.Second
	}
	if cfg.RecoveryWindow <= 0 {
		cfg.RecoveryWindow = 30 * time.Minute
	}
	return &Poller{store: store, ledger: l, providers: providers, mirror: mirror, listener: listener, cfg: cfg, logger: logger, now: time.Now}
}

// Load returns a task after checking that userID owns it.
func (p *Poller) Load(ctx context.Context, userID, taskID uuid.UUID) (*models.Task, error) {
	t, err := p.store.GetByID(ctx, taskID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}
	if t.UserID != userID {
		return nil, ErrForbidden
	}
	return t, nil
}

func (p *Poller) reload(ctx context.Context, taskID uuid.UUID) (*Result, error) {
	t, err := p.store.GetByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("reload task: %w", err)
	}
	return resultFromTask(t), nil
}

// GetResult reports the task's state, polling the provider when the task is
// still running. Terminal tasks are answered from the store. It never bills;
// request handlers use Reconcile.
func (p *Poller) GetResult(ctx context.Context, userID, taskID uuid.UUID) (*Result, error) {
	return p.advance(ctx, userID, taskID, false)
}

// Reconcile is GetResult plus billing: the poll that completes the task
// deducts quota in the same transaction that marks it completed.
func (p *Poller) Reconcile(ctx context.Context, userID, taskID uuid.UUID) (*Result, error) {
	return p.advance(ctx, userID, taskID, true)
}

func (p *Poller) advance(ctx context.Context, userID, taskID uuid.UUID, bill bool) (*Result, error) {
	t, err := p.Load(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if t.IsTerminal() {
		return resultFromTask(t), nil
	}

	handle := t.Metadata.ProviderTaskID
	if handle == "" {
		// Submitter never leaves a sync task non-terminal. These rows come from
		// older deployments or writers outside this service.
		if p.now().Sub(t.CreatedAt) > p.cfg.RecoveryWindow {
			if _, err := p.store.FailIfActive(ctx, t.ID, msgAbandoned); err != nil {
				return nil, err
			}
			return p.reload(ctx, t.ID)
		}
		return resultFromTask(t), nil
	}

	prov, ok := p.providers.ByName(t.Metadata.Provider)
	if !ok {
		return nil, fmt.Errorf("provider %q for task %s is not configured", t.Metadata.Provider, t.ID)
	}

	pctx, cancel := context.WithTimeout(ctx, p.cfg.PollTimeout)
	defer cancel()
	pr, err := prov.Poll(pctx, handle)
	if err != nil {
		if errors.Is(err, provider.ErrTransport) || errors.Is(err, context.DeadlineExceeded) {
			p.logger.Warn("provider poll failed", "task_id", t.ID, "provider", prov.Name(), "error", err)
			return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
		}
		return nil, err
	}

	switch pr.Status {
	case provider.StatusCompleted:
		return p.complete(ctx, t, pr, bill)
	case provider.StatusFailed:
		won, err := p.store.FailIfActive(ctx, t.ID, pr.Error)
		if err != nil {
			return nil, err
		}
		if won {
			p.logger.Info("try-on failed", "task_id", t.ID, "error", pr.Error)
		}
		return p.reload(ctx, t.ID)
	default:
		if _, err := p.store.MarkProcessing(ctx, t.ID, pr.Progress); err != nil {
			return nil, err
		}
		return p.reload(ctx, t.ID)
	}
}

// complete holds the task's row lock while it mirrors the result, writes the
// completion and, when bill is set, deducts quota. Any failure rolls all of it
// back so the next poll retries from a non-terminal task.
func (p *Poller) complete(ctx context.Context, t *models.Task, pr *provider.PollResult, bill bool) (*Result, error) {
	tx, err := p.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	locked, err := p.store.LockActiveTx(ctx, tx, t.ID)
	if err != nil {
		return nil, err
	}
	if !locked {
		tx.Rollback(ctx)
		return p.reload(ctx, t.ID)
	}

	resultURL := pr.ResultImageURL
	meta := t.Metadata
	if pr.Description != "" {
		meta.Description = pr.Description
	}
	if p.mirror != nil {
		key, u, err := p.mirror.Mirror(ctx, t.ID, pr.ResultImageURL)
		if err != nil {
			p.logger.Warn("result mirror failed, keeping provider URL", "task_id", t.ID, "error", err)
		} else {
			meta.OriginalResultURL = pr.ResultImageURL
			meta.ResultObjectKey = key
			resultURL = u
		}
	}

	res, billed, err := p.completeLocked(ctx, tx, t, resultURL, meta, bill)
	if err != nil {
		return nil, err
	}
	if billed && p.listener != nil {
		p.listener.Invalidate(ctx, t.UserID)
	}
	return res, nil
}

func (p *Poller) completeLocked(ctx context.Context, tx pgx.Tx, t *models.Task, resultURL string, meta models.TaskMetadata, bill bool) (*Result, bool, error) {
	won, err := p.store.CompleteIfActiveTx(ctx, tx, t.ID, resultURL, meta)
	if err != nil {
		p.discardMirrored(ctx, t.ID, meta)
		return nil, false, fmt.Errorf("complete task: %w", err)
	}
	if !won {
		p.discardMirrored(ctx, t.ID, meta)
		return nil, false, fmt.Errorf("complete task %s: row changed under lock", t.ID)
	}

	billed := false
	if bill {
		d, err := p.ledger.DeductTx(ctx, tx, t.UserID, t.ID)
		switch {
		case err == nil:
			billed = true
			p.logger.Info("quota deducted", "task_id", t.ID, "user_id", t.UserID, "bucket", d.Bucket)
		case errors.Is(err, ledger.ErrAlreadyDeducted):
		case errors.Is(err, ledger.ErrQuotaExhausted):
			p.logger.Warn("quota drained before async completion, result delivered unbilled", "task_id", t.ID, "user_id", t.UserID)
		default:
			p.logger.Error("quota deduction failed, completion rolled back", "task_id", t.ID, "user_id", t.UserID, "error", err)
			p.discardMirrored(ctx, t.ID, meta)
			return nil, false, fmt.Errorf("deduct quota: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit completion: %w", err)
	}
	p.logger.Info("try-on completed", "task_id", t.ID, "provider", meta.Provider)
	return &Result{
		TaskID:          t.ID,
		Status:          models.TaskStatusCompleted,
		ResultImageURL:  resultURL,
		Progress:        100,
		IsNewCompletion: true,
	}, billed, nil
}

// discardMirrored drops an object mirrored for a completion that will not
// commit. It runs under the row lock, so no other poll can have stored the key.
func (p *Poller) discardMirrored(ctx context.Context, taskID uuid.UUID, meta models.TaskMetadata) {
	if p.mirror == nil || meta.ResultObjectKey == "" {
		return
	}
	if err := p.mirror.Delete(ctx, meta.ResultObjectKey); err != nil {
		p.logger.Warn("discard mirrored result failed", "task_id", taskID, "key", meta.ResultObjectKey, "error", err)
	}
}
