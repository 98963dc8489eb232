package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"

	"github.com/pharmaintel/hub/internal/retry"
)

// Inserter is the subset of *river.Client used to enqueue jobs.
type Inserter interface {
	Insert(ctx context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error)
}

// EnqueuePolicy is the retry policy for transient River/DB errors on insert.
func EnqueuePolicy() retry.Policy {
	return retry.Policy{
		InitialDelay: 200 * time.Millisecond,
		Multiplier:   2,
		MaxDelay:     2 * time.Second,
		MaxAttempts:  4,
		Jitter:       true,
	}
}

// RiverJobInserter enqueues webhook deliveries on River.
type RiverJobInserter struct {
	client      Inserter
	policy      retry.Policy
	maxAttempts int
	sleep       retry.Sleeper
}

// NewRiverJobInserter creates an inserter. maxAttempts bounds River-level job retries, which only
// happen when a worker returns an error (lease contention, shutdown mid-delivery).
func NewRiverJobInserter(client Inserter, maxAttempts int) *RiverJobInserter {
	return &RiverJobInserter{
		client:      client,
		policy:      EnqueuePolicy(),
		maxAttempts: maxAttempts,
		sleep:       retry.Sleep,
	}
}

// uniqueStates are the job states considered for deduplication.
// River requires JobStatePending when ByState is set.
var uniqueStates = []rivertype.JobState{
	rivertype.JobStatePending,
	rivertype.JobStateAvailable,
	rivertype.JobStateRunning,
	rivertype.JobStateRetryable,
	rivertype.JobStateScheduled,
}

// InsertDelivery enqueues one delivery job. A job already queued for the same webhook is not duplicated.
func (r *RiverJobInserter) InsertDelivery(ctx context.Context, webhookID uuid.UUID) error {
	args := WebhookDeliveryArgs{WebhookID: webhookID}
	opts := &river.InsertOpts{
		Queue:       WebhookQueueName,
		MaxAttempts: r.maxAttempts,
		UniqueOpts: river.UniqueOpts{
			ByArgs:  true,
			ByState: uniqueStates,
		},
	}

	_, err := retry.Do(ctx, r.policy, func(ctx context.Context, _ int) error {
		_, err := r.client.Insert(ctx, args, opts)

		return err
	},
		retry.WithSleeper(r.sleep),
		retry.WithOnRetry(func(ctx context.Context, attempt int, delay time.Duration, err error) {
			slog.WarnContext(ctx, "webhook enqueue failed, retrying after backoff",
				"webhook_id", webhookID,
				"attempt", attempt,
				"backoff", delay,
				"error", err,
			)
		}),
	)
	if err != nil {
		return fmt.Errorf("enqueue webhook delivery: %w", err)
	}

	return nil
}
