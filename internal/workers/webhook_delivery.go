// Package workers provides River job workers for webhook delivery and the dead-letter sweep.
package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/pharmaintel/hub/internal/huberrors"
	"github.com/pharmaintel/hub/internal/jobs"
	"github.com/pharmaintel/hub/internal/models"
	"github.com/pharmaintel/hub/internal/retry"
)

// MaxEndpointTimeout is the largest per-request timeout an endpoint can configure.
const MaxEndpointTimeout = 300 * time.Second

// leaseSnooze is how long a job waits when another worker holds the delivery.
const leaseSnooze = 30 * time.Second

type webhookDeliverer interface {
	DeliverWebhook(ctx context.Context, id uuid.UUID) (*models.WebhookDelivery, error)
}

// WebhookDeliveryWorker runs the full retry loop of one scheduled webhook.
type WebhookDeliveryWorker struct {
	river.WorkerDefaults[jobs.WebhookDeliveryArgs]

	deliverer webhookDeliverer
	timeout   time.Duration
}

// NewWebhookDeliveryWorker creates a worker whose job timeout covers every attempt of policy
// at the largest endpoint timeout, plus the backoff in between.
func NewWebhookDeliveryWorker(deliverer webhookDeliverer, policy retry.Policy) *WebhookDeliveryWorker {
	attempts := max(policy.MaxAttempts, 1)

	return &WebhookDeliveryWorker{
		deliverer: deliverer,
		timeout:   policy.Budget() + time.Duration(attempts)*MaxEndpointTimeout + time.Minute,
	}
}

// Timeout limits how long a single delivery job can run.
func (w *WebhookDeliveryWorker) Timeout(*river.Job[jobs.WebhookDeliveryArgs]) time.Duration {
	return w.timeout
}

// Work delivers the webhook. Outcomes are persisted by the delivery service; the job only fails
// when the service could not record one.
func (w *WebhookDeliveryWorker) Work(ctx context.Context, job *river.Job[jobs.WebhookDeliveryArgs]) error {
	id := job.Args.WebhookID

	d, err := w.deliverer.DeliverWebhook(ctx, id)

	switch {
	case err == nil:
		slog.DebugContext(ctx, "webhook job finished", "webhook_id", id, "status", d.Status, "attempts", d.Attempts)

		return nil
	case errors.Is(err, huberrors.ErrNotFound):
		slog.ErrorContext(ctx, "webhook job: delivery or endpoint not found, dropping job", "webhook_id", id, "error", err)

		return nil
	case errors.Is(err, huberrors.ErrConflict):
		slog.InfoContext(ctx, "webhook job: delivery held by another worker, snoozing", "webhook_id", id)

		return river.JobSnooze(leaseSnooze)
	default:
		return fmt.Errorf("deliver webhook %s: %w", id, err)
	}
}
