package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pharmaintel/hub/internal/huberrors"
	"github.com/pharmaintel/hub/internal/models"
	"github.com/pharmaintel/hub/internal/observability"
)

// SweepDeadLetters makes one delivery attempt for every dead-letter entry whose next checkpoint is due.
// Due entries exclude inactive endpoints; an endpoint deactivated after the listing is skipped.
func (s *WebhookDeliveryService) SweepDeadLetters(ctx context.Context) (*models.DeadLetterSweepResult, error) {
	now := s.now()

	due, err := s.deadLetters.ListDue(ctx, now, sweepBatchSize)
	if err != nil {
		return nil, err
	}

	result := &models.DeadLetterSweepResult{Examined: len(due)}

	for i := range due {
		entry := &due[i]

		delivered, err := s.sweepEntry(ctx, entry)

		switch {
		case errors.Is(err, errSweepSkipped):
			result.Skipped++
		case err != nil:
			return result, err
		case delivered:
			result.Delivered++
		default:
			result.Failed++
		}
	}

	if result.Examined > 0 {
		slog.InfoContext(ctx, "dead-letter sweep finished",
			"examined", result.Examined,
			"delivered", result.Delivered,
			"failed", result.Failed,
			"skipped", result.Skipped,
		)
	}

	return result, nil
}

var errSweepSkipped = errors.New("dead-letter entry skipped")

func (s *WebhookDeliveryService) sweepEntry(ctx context.Context, entry *models.DeadLetterEntry) (bool, error) {
	ctx = observability.WithWebhookID(ctx, entry.WebhookID.String())

	endpoint, err := s.endpoints.GetByID(ctx, entry.EndpointID)
	if errors.Is(err, huberrors.ErrNotFound) {
		return false, errSweepSkipped
	}

	if err != nil {
		return false, err
	}

	if !endpoint.Active {
		return false, errSweepSkipped
	}

	sweepCount := entry.SweepCount + 1

	return s.attemptDeadLetter(ctx, entry, endpoint, sweepCount, nextSweepAt(entry.CreatedAt, sweepCount))
}

// RetryDeadLetter makes one manual delivery attempt for a dead-letter entry. The sweep schedule is
// left unchanged when the attempt fails.
func (s *WebhookDeliveryService) RetryDeadLetter(ctx context.Context, id uuid.UUID) (*models.DeadLetterEntry, error) {
	entry, err := s.deadLetters.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if entry.ResolvedAt != nil {
		return nil, huberrors.NewConflictError("dead-letter entry is already resolved")
	}

	ctx = observability.WithWebhookID(ctx, entry.WebhookID.String())

	endpoint, err := s.endpoints.GetByID(ctx, entry.EndpointID)
	if err != nil {
		return nil, err
	}

	if !endpoint.Active {
		return nil, huberrors.NewEndpointInactiveError()
	}

	if _, err := s.attemptDeadLetter(ctx, entry, endpoint, entry.SweepCount, entry.NextSweepAt); err != nil {
		return nil, err
	}

	return s.deadLetters.GetByID(ctx, id)
}

// attemptDeadLetter sends the entry's delivery once. On success the entry is resolved and the
// delivery marked delivered; on failure the sweep bookkeeping is updated.
func (s *WebhookDeliveryService) attemptDeadLetter(
	ctx context.Context,
	entry *models.DeadLetterEntry,
	endpoint *models.WebhookEndpoint,
	sweepCount int,
	next *time.Time,
) (bool, error) {
	d, err := s.deliveries.GetByID(ctx, entry.WebhookID)
	if err != nil {
		return false, err
	}

	release, ok, err := s.lease.Acquire(ctx, d.ID.String(), endpoint.Timeout()+time.Minute)
	if err != nil {
		return false, err
	}

	if !ok {
		return false, huberrors.NewConflictError("webhook delivery is already being processed")
	}
	defer release()

	start := time.Now()
	code, sendErr := s.sender.Send(ctx, endpoint, d)

	s.recordAttempt(ctx, d.ID, d.Attempts+1, code, sendErr, 0)

	if sendErr == nil {
		if err := s.deliveries.ResolveDeadLetter(ctx, entry.ID, d.ID, d.Attempts+1, code, s.now()); err != nil {
			return false, err
		}

		if s.metrics != nil {
			s.metrics.RecordWebhookDelivery(ctx, d.EventType.String(), "delivered", time.Since(start))
		}

		s.recordAudit(ctx, auditEntityDeadLetter, entry.ID.String(), "resolved", map[string]any{
			"webhook_id":  d.ID.String(),
			"status_code": code,
		})

		slog.InfoContext(ctx, "dead-letter entry delivered", "dead_letter_id", entry.ID)

		return true, nil
	}

	var statusCode *int
	if c := statusCodeOf(sendErr); c != 0 {
		statusCode = &c
	}

	if err := s.deadLetters.RecordSweep(ctx, entry.ID, sweepCount, next, sendErr.Error(), statusCode); err != nil {
		return false, err
	}

	s.recordAudit(ctx, auditEntityDeadLetter, entry.ID.String(), "sweep_failed", map[string]any{
		"sweep_count": sweepCount,
		"error":       sendErr.Error(),
	})

	slog.WarnContext(ctx, "dead-letter redelivery failed",
		"dead_letter_id", entry.ID,
		"sweep_count", sweepCount,
		"error", sendErr,
	)

	return false, nil
}
