package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"

	"github.com/pharmaintel/hub/internal/jobs"
	"github.com/pharmaintel/hub/internal/models"
)

type deadLetterSweeper interface {
	SweepDeadLetters(ctx context.Context) (*models.DeadLetterSweepResult, error)
}

// DeadLetterSweepWorker retries due dead-letter entries on each periodic run.
type DeadLetterSweepWorker struct {
	river.WorkerDefaults[jobs.DeadLetterSweepArgs]

	sweeper deadLetterSweeper
}

// NewDeadLetterSweepWorker creates the sweep worker.
func NewDeadLetterSweepWorker(sweeper deadLetterSweeper) *DeadLetterSweepWorker {
	return &DeadLetterSweepWorker{sweeper: sweeper}
}

// Timeout bounds one sweep run.
func (w *DeadLetterSweepWorker) Timeout(*river.Job[jobs.DeadLetterSweepArgs]) time.Duration {
	return 30 * time.Minute
}

// Work runs one sweep.
func (w *DeadLetterSweepWorker) Work(ctx context.Context, _ *river.Job[jobs.DeadLetterSweepArgs]) error {
	if _, err := w.sweeper.SweepDeadLetters(ctx); err != nil {
		return fmt.Errorf("dead-letter sweep: %w", err)
	}

	return nil
}

// DeadLetterSweepPeriodicJob schedules the sweep every interval.
func DeadLetterSweepPeriodicJob(interval time.Duration) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return jobs.DeadLetterSweepArgs{}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: false},
	)
}
