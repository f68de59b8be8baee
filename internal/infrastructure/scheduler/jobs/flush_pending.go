package jobs

import (
	"context"
	"fmt"
	"log/slog"
)

// ══════════════════════════════════════════════════════════════════════════════
// FLUSH PENDING SAVES JOB
// ══════════════════════════════════════════════════════════════════════════════

// PendingFlusher holds users whose last save failed.
type PendingFlusher interface {
	FlushPending(ctx context.Context) (int, error)
	PendingCount() int
}

// FlushPendingJob retries saving users the store could not persist right
// after an award. The progress is already applied in memory, so flushing
// never awards experience twice.
type FlushPendingJob struct {
	store  PendingFlusher
	logger *slog.Logger
}

// FlushPendingJobName is the scheduler name of the job.
const FlushPendingJobName = "flush-pending-saves"

// NewFlushPendingJob creates the job.
func NewFlushPendingJob(store PendingFlusher, logger *slog.Logger) *FlushPendingJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlushPendingJob{
		store:  store,
		logger: logger.With("job", FlushPendingJobName),
	}
}

// Name returns the job name.
func (j *FlushPendingJob) Name() string {
	return FlushPendingJobName
}

// Description returns a human-readable description.
func (j *FlushPendingJob) Description() string {
	return "Retries saving users whose last save failed"
}

// Run executes the job.
func (j *FlushPendingJob) Run(ctx context.Context) error {
	pending := j.store.PendingCount()
	if pending == 0 {
		return nil
	}

	saved, err := j.store.FlushPending(ctx)
	if saved > 0 {
		j.logger.Info("pending users saved", "saved", saved, "pending", pending)
	}
	if err != nil {
		return fmt.Errorf("flush pending users: %w", err)
	}
	return nil
}
