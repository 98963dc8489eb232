// Package jobs defines the River job arguments and the enqueue path used by services.
package jobs

import (
	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

// Job kinds.
const (
	KindWebhookDelivery = "webhook_delivery"
	KindDeadLetterSweep = "dead_letter_sweep"
	KindReconcile       = "webhook_reconcile"
)

// WebhookQueueName is the River queue served by the webhook worker pool.
const WebhookQueueName = "webhooks"

// WebhookDeliveryArgs asks a worker to deliver one scheduled webhook.
// Only the webhook id is used for River uniqueness.
type WebhookDeliveryArgs struct {
	WebhookID uuid.UUID `json:"webhook_id" river:"unique"`
}

// Kind returns the River job kind.
func (WebhookDeliveryArgs) Kind() string { return KindWebhookDelivery }

// InsertOpts routes delivery jobs to the webhook queue.
func (WebhookDeliveryArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: WebhookQueueName}
}

// DeadLetterSweepArgs triggers one dead-letter sweep run.
type DeadLetterSweepArgs struct{}

// Kind returns the River job kind.
func (DeadLetterSweepArgs) Kind() string { return KindDeadLetterSweep }

// ReconcileArgs re-enqueues deliveries left pending without a queued job.
type ReconcileArgs struct{}

// Kind returns the River job kind.
func (ReconcileArgs) Kind() string { return KindReconcile }

var (
	_ river.JobArgs               = WebhookDeliveryArgs{}
	_ river.JobArgsWithInsertOpts = WebhookDeliveryArgs{}
	_ river.JobArgs               = DeadLetterSweepArgs{}
	_ river.JobArgs               = ReconcileArgs{}
)
