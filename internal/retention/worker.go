package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/vtryon/backend/internal/repository"
)

const defaultBatchSize = 500

type SweepArgs struct {
	BatchSize int `json:"batch_size,omitempty"`
}

func (SweepArgs) Kind() string { return "retention_sweep" }

// TaskPurger deletes tasks past their retention deadline and reports them.
type TaskPurger interface {
	DeleteExpired(ctx context.Context, now time.Time, limit int) ([]repository.ExpiredTask, error)
}

// ObjectDeleter removes a mirrored result image.
type ObjectDeleter interface {
	Delete(ctx context.Context, key string) error
}

// SweepWorker purges expired tasks and their stored result images.
type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	tasks   TaskPurger
	objects ObjectDeleter
	now     func() time.Time
	logger  *slog.Logger
}

// NewSweepWorker builds the worker. objects may be nil when no result
// store is configured.
func NewSweepWorker(tasks TaskPurger, objects ObjectDeleter, logger *slog.Logger) *SweepWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepWorker{tasks: tasks, objects: objects, now: time.Now, logger: logger}
}

func (w *SweepWorker) Work(ctx context.Context, job *river.Job[SweepArgs]) error {
	batch := job.Args.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	now := w.now()

	total := 0
	for {
		expired, err := w.tasks.DeleteExpired(ctx, now, batch)
		if err != nil {
			return fmt.Errorf("delete expired tasks: %w", err)
		}
		for _, e := range expired {
			if e.ResultObjectKey == "" || w.objects == nil {
				continue
			}
			if err := w.objects.Delete(ctx, e.ResultObjectKey); err != nil {
				w.logger.Warn("failed to delete expired result object", "task_id", e.ID, "key", e.ResultObjectKey, "error", err)
			}
		}
		total += len(expired)
		if len(expired) < batch {
			break
		}
	}
	if total > 0 {
		w.logger.Info("retention sweep finished", "deleted", total)
	}
	return nil
}

// PeriodicJob schedules the sweep every interval, starting at boot.
func PeriodicJob(interval time.Duration) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return SweepArgs{}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}
