package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"

	"github.com/pharmaintel/hub/internal/jobs"
)

type pendingReconciler interface {
	ReconcilePending(ctx context.Context) (int, error)
}

// ReconcileWorker re-enqueues non-terminal deliveries that have no live job, e.g. after a failed
// enqueue at schedule time. Delivery jobs are unique per webhook, so queued or running ones are not duplicated.
type ReconcileWorker struct {
	river.WorkerDefaults[jobs.ReconcileArgs]

	reconciler pendingReconciler
}

// NewReconcileWorker creates the reconcile worker.
func NewReconcileWorker(reconciler pendingReconciler) *ReconcileWorker {
	return &ReconcileWorker{reconciler: reconciler}
}

// Timeout bounds one reconcile run.
func (w *ReconcileWorker) Timeout(*river.Job[jobs.ReconcileArgs]) time.Duration {
	return 10 * time.Minute
}

// Work runs one reconcile pass.
func (w *ReconcileWorker) Work(ctx context.Context, _ *river.Job[jobs.ReconcileArgs]) error {
	if _, err := w.reconciler.ReconcilePending(ctx); err != nil {
		return fmt.Errorf("reconcile pending deliveries: %w", err)
	}

	return nil
}

// ReconcilePeriodicJob schedules reconciliation every interval.
func ReconcilePeriodicJob(interval time.Duration) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return jobs.ReconcileArgs{}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: false},
	)
}
