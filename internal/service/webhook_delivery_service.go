package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pharmaintel/hub/internal/datatypes"
	"github.com/pharmaintel/hub/internal/huberrors"
	"github.com/pharmaintel/hub/internal/models"
	"github.com/pharmaintel/hub/internal/observability"
	"github.com/pharmaintel/hub/internal/retry"
)

// Audit entities and batch sizes used by the delivery service.
const (
	auditEntityDelivery   = "webhook_delivery"
	auditEntityDeadLetter = "dead_letter"

	sweepBatchSize     = 100
	reconcileBatchSize = 1000
)

// sweepCheckpoints are the offsets from dead-letter creation at which the sweep retries an entry.
var sweepCheckpoints = []time.Duration{time.Hour, 4 * time.Hour, 12 * time.Hour, 24 * time.Hour}

// nextSweepAt returns the checkpoint after sweepCount sweeps, or nil once all checkpoints are used.
func nextSweepAt(createdAt time.Time, sweepCount int) *time.Time {
	if sweepCount < 0 || sweepCount >= len(sweepCheckpoints) {
		return nil
	}

	t := createdAt.Add(sweepCheckpoints[sweepCount])

	return &t
}

// WebhookDeliveriesRepository defines the data access needed for deliveries.
type WebhookDeliveriesRepository interface {
	Create(ctx context.Context, d *models.WebhookDelivery) (*models.WebhookDelivery, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.WebhookDelivery, error)
	List(ctx context.Context, filters *models.ListWebhookDeliveriesFilters) ([]models.WebhookDelivery, error)
	Count(ctx context.Context, filters *models.ListWebhookDeliveriesFilters) (int64, error)
	ListByStatus(
		ctx context.Context, statuses []datatypes.DeliveryStatus, after uuid.UUID, limit int,
	) ([]models.WebhookDelivery, error)
	UpdateAttempt(ctx context.Context, id uuid.UUID, u models.DeliveryAttemptUpdate) error
	MoveToDeadLetter(ctx context.Context, u models.DeliveryAttemptUpdate, entry *models.DeadLetterEntry) (*models.DeadLetterEntry, error)
	ResolveDeadLetter(ctx context.Context, entryID, deliveryID uuid.UUID, attempts int, statusCode int, at time.Time) error
}

// DeadLettersRepository defines the data access needed for dead-letter entries.
type DeadLettersRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.DeadLetterEntry, error)
	List(ctx context.Context, filters *models.ListDeadLettersFilters) ([]models.DeadLetterEntry, error)
	Count(ctx context.Context, filters *models.ListDeadLettersFilters) (int64, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.DeadLetterEntry, error)
	RecordSweep(ctx context.Context, id uuid.UUID, sweepCount int, nextSweepAt *time.Time, reason string, statusCode *int) error
}

// AuditRepository appends alerts and audit-log rows.
type AuditRepository interface {
	CreateAlert(ctx context.Context, a *models.WebhookAlert) error
	CreateAuditEntry(ctx context.Context, e *models.AuditLogEntry) error
}

// EndpointGetter loads endpoints on the delivery path.
type EndpointGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.WebhookEndpoint, error)
}

// DeliveryInserter enqueues a delivery on the durable queue.
type DeliveryInserter interface {
	InsertDelivery(ctx context.Context, webhookID uuid.UUID) error
}

// WebhookDeliveryServiceParams holds the dependencies of WebhookDeliveryService.
type WebhookDeliveryServiceParams struct {
	Deliveries  WebhookDeliveriesRepository
	DeadLetters DeadLettersRepository
	Audit       AuditRepository
	Endpoints   EndpointGetter
	Sender      WebhookSender
	Lease       DeliveryLease
	Inserter    DeliveryInserter
	Policy      retry.Policy
	// Metrics may be nil.
	Metrics observability.IntelMetrics
}

// WebhookDeliveryService schedules and delivers webhooks, and manages the dead-letter queue.
type WebhookDeliveryService struct {
	deliveries  WebhookDeliveriesRepository
	deadLetters DeadLettersRepository
	audit       AuditRepository
	endpoints   EndpointGetter
	sender      WebhookSender
	lease       DeliveryLease
	inserter    DeliveryInserter
	policy      retry.Policy
	metrics     observability.IntelMetrics
	now         func() time.Time
	sleep       retry.Sleeper
}

// NewWebhookDeliveryService creates the service. A nil Lease falls back to a process-local lease.
func NewWebhookDeliveryService(p WebhookDeliveryServiceParams) *WebhookDeliveryService {
	lease := p.Lease
	if lease == nil {
		lease = NewLocalDeliveryLease()
	}

	return &WebhookDeliveryService{
		deliveries:  p.Deliveries,
		deadLetters: p.DeadLetters,
		audit:       p.Audit,
		endpoints:   p.Endpoints,
		sender:      p.Sender,
		lease:       lease,
		inserter:    p.Inserter,
		policy:      p.Policy,
		metrics:     p.Metrics,
		now:         func() time.Time { return time.Now().UTC() },
		sleep:       retry.Sleep,
	}
}

// SetInserter sets the queue inserter. The River client is created after the service because its
// workers depend on it; call this before the first ScheduleWebhook.
func (s *WebhookDeliveryService) SetInserter(inserter DeliveryInserter) {
	s.inserter = inserter
}

// Policy returns the retry policy applied to each delivery.
func (s *WebhookDeliveryService) Policy() retry.Policy {
	return s.policy
}

// ScheduleWebhook persists a pending delivery and enqueues it. Scheduling for an inactive endpoint
// dead-letters the delivery immediately and returns a ConflictError.
func (s *WebhookDeliveryService) ScheduleWebhook(
	ctx context.Context, req *models.ScheduleWebhookRequest,
) (*models.ScheduleWebhookResponse, error) {
	endpoint, err := s.endpoints.GetByID(ctx, req.EndpointID)
	if err != nil {
		return nil, err
	}

	now := s.now()

	payload, err := buildPayload(req.RequestID, req.Type, req.Data, now)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate webhook id: %w", err)
	}

	maxAttempts := s.policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	delivery, err := s.deliveries.Create(ctx, &models.WebhookDelivery{
		ID:          id,
		RequestID:   req.RequestID,
		ProcessID:   req.ProcessID,
		EndpointID:  endpoint.ID,
		EventType:   req.Type,
		Payload:     payload,
		Status:      datatypes.DeliveryPending,
		MaxAttempts: maxAttempts,
		ScheduledAt: now,
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordWebhookScheduled(ctx, req.Type.String())
	}

	s.recordAudit(ctx, auditEntityDelivery, delivery.ID.String(), "scheduled", map[string]any{
		"endpoint_id": endpoint.ID.String(),
		"type":        req.Type.String(),
		"request_id":  req.RequestID,
	})

	if !endpoint.Active {
		if err := s.deadLetterInactive(ctx, delivery); err != nil {
			return nil, err
		}

		return nil, huberrors.NewEndpointInactiveError()
	}

	if err := s.inserter.InsertDelivery(ctx, delivery.ID); err != nil {
		slog.ErrorContext(ctx, "webhook scheduled but not enqueued; the periodic reconcile job will retry the enqueue",
			"webhook_id", delivery.ID,
			"error", err,
		)

		return nil, err
	}

	slog.InfoContext(ctx, "webhook scheduled",
		"webhook_id", delivery.ID,
		"endpoint_id", endpoint.ID,
		"request_id", req.RequestID,
		"type", req.Type.String(),
	)

	return &models.ScheduleWebhookResponse{WebhookID: delivery.ID, Status: delivery.Status}, nil
}

// deadLetterInactive moves a delivery to the dead-letter queue without any HTTP attempt.
func (s *WebhookDeliveryService) deadLetterInactive(ctx context.Context, d *models.WebhookDelivery) error {
	reason := huberrors.EndpointInactiveMessage

	entry, err := s.deliveries.MoveToDeadLetter(ctx,
		models.DeliveryAttemptUpdate{Attempts: d.Attempts, LastStatusCode: d.LastStatusCode, LastError: &reason},
		s.newDeadLetterEntry(d, reason, d.LastStatusCode, d.Attempts),
	)
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordDeadLettered(ctx, "endpoint_inactive")
	}

	s.raiseAlert(ctx, d.ID, models.AlertWarning,
		fmt.Sprintf("Webhook %s not delivered: %s", d.ID, reason))
	s.recordAudit(ctx, auditEntityDelivery, d.ID.String(), "dead_lettered", map[string]any{
		"dead_letter_id": entry.ID.String(),
		"reason":         reason,
		"attempts":       d.Attempts,
	})

	slog.WarnContext(ctx, "webhook dead-lettered: endpoint not active",
		"webhook_id", d.ID,
		"endpoint_id", d.EndpointID,
	)

	return nil
}

func (s *WebhookDeliveryService) newDeadLetterEntry(
	d *models.WebhookDelivery, reason string, statusCode *int, attempts int,
) *models.DeadLetterEntry {
	now := s.now()

	return &models.DeadLetterEntry{
		ID:                         uuid.Must(uuid.NewV7()),
		WebhookID:                  d.ID,
		EndpointID:                 d.EndpointID,
		RequestID:                  d.RequestID,
		ProcessID:                  d.ProcessID,
		Payload:                    d.Payload,
		FailureReason:              reason,
		LastStatusCode:             statusCode,
		AttemptsMade:               attempts,
		ManualInterventionRequired: true,
		NextSweepAt:                nextSweepAt(now, 0),
		CreatedAt:                  now,
	}
}

// attemptState tracks the columns written after each attempt of one delivery.
type attemptState struct {
	attempts   int
	statusCode *int
	lastError  *string
}

func (a *attemptState) record(code int, err error) {
	if code != 0 {
		a.statusCode = &code
	}

	if err != nil {
		msg := err.Error()
		a.lastError = &msg
	} else {
		a.lastError = nil
	}
}

// DeliverWebhook runs the delivery's remaining attempts under the retry policy. Deliveries already
// in a terminal state are returned unchanged.
func (s *WebhookDeliveryService) DeliverWebhook(ctx context.Context, id uuid.UUID) (*models.WebhookDelivery, error) {
	ctx = observability.WithWebhookID(ctx, id.String())

	d, err := s.deliveries.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if d.Status.IsTerminal() {
		slog.DebugContext(ctx, "webhook already in terminal state", "status", d.Status)

		return d, nil
	}

	endpoint, err := s.endpoints.GetByID(ctx, d.EndpointID)
	if err != nil {
		return nil, err
	}

	release, ok, err := s.lease.Acquire(ctx, id.String(), s.leaseTTL(d, endpoint))
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, huberrors.NewConflictError("webhook delivery is already being processed")
	}
	defer release()

	if !endpoint.Active {
		if err := s.deadLetterInactive(ctx, d); err != nil {
			return nil, err
		}

		return s.deliveries.GetByID(ctx, id)
	}

	if err := s.runAttempts(ctx, d, endpoint); err != nil {
		return nil, err
	}

	return s.deliveries.GetByID(ctx, id)
}

// leaseTTL covers every remaining attempt at the endpoint timeout plus the backoff budget.
func (s *WebhookDeliveryService) leaseTTL(d *models.WebhookDelivery, endpoint *models.WebhookEndpoint) time.Duration {
	remaining := max(d.MaxAttempts-d.Attempts, 1)

	return s.policy.Budget() + time.Duration(remaining)*endpoint.Timeout() + time.Minute
}

// pendingAttempt is a retryable failure whose audit row waits for the backoff delay.
type pendingAttempt struct {
	n    int
	code int
	err  error
}

func (s *WebhookDeliveryService) runAttempts(
	ctx context.Context, d *models.WebhookDelivery, endpoint *models.WebhookEndpoint,
) error {
	start := time.Now()
	state := attemptState{attempts: d.Attempts, statusCode: d.LastStatusCode, lastError: d.LastError}

	policy := s.policy
	policy.MaxAttempts = max(d.MaxAttempts-d.Attempts, 1)

	var pending *pendingAttempt

	op := func(ctx context.Context, attempt int) error {
		state.attempts++

		if err := s.deliveries.UpdateAttempt(ctx, d.ID, models.DeliveryAttemptUpdate{
			Status:         datatypes.DeliveryInProgress,
			Attempts:       state.attempts,
			LastStatusCode: state.statusCode,
			LastError:      state.lastError,
		}); err != nil {
			return retry.Permanent(err)
		}

		code, sendErr := s.sender.Send(ctx, endpoint, d)
		state.record(code, sendErr)

		if sendErr != nil && IsRetryableDeliveryError(sendErr) && attempt < policy.MaxAttempts {
			// Audited by onRetry with the delay actually slept.
			pending = &pendingAttempt{n: state.attempts, code: code, err: sendErr}

			return sendErr
		}

		s.recordAttempt(ctx, d.ID, state.attempts, code, sendErr, 0)

		return sendErr
	}

	onRetry := func(ctx context.Context, _ int, delay time.Duration, err error) {
		if pending != nil {
			s.recordAttempt(ctx, d.ID, pending.n, pending.code, pending.err, delay)
			pending = nil
		}

		next := s.now().Add(delay)

		if uerr := s.deliveries.UpdateAttempt(ctx, d.ID, models.DeliveryAttemptUpdate{
			Status:         datatypes.DeliveryRetrying,
			Attempts:       state.attempts,
			LastStatusCode: state.statusCode,
			LastError:      state.lastError,
			NextRetryAt:    &next,
		}); uerr != nil {
			slog.ErrorContext(ctx, "failed to record webhook retry", "error", uerr)
		}

		slog.WarnContext(ctx, "webhook delivery failed, will retry",
			"attempt", state.attempts,
			"max_attempts", d.MaxAttempts,
			"backoff", delay,
			"error", err,
		)
	}

	_, err := retry.Do(ctx, policy, op,
		retry.WithPredicate(IsRetryableDeliveryError),
		retry.WithSleeper(s.sleep),
		retry.WithOnRetry(onRetry),
	)

	switch {
	case err == nil:
		return s.markDelivered(ctx, d, state, time.Since(start))
	case ctx.Err() != nil:
		// Shutdown mid-delivery: the row stays non-terminal and is re-enqueued on restart.
		return fmt.Errorf("webhook delivery interrupted: %w", err)
	case errors.Is(err, retry.ErrExhausted):
		return s.markExhausted(ctx, d, state, time.Since(start))
	case retry.IsPermanent(err):
		// Persistence failure before the send; the job is retried by the queue.
		return err
	default:
		return s.markFailed(ctx, d, state, err, time.Since(start))
	}
}

func (s *WebhookDeliveryService) markDelivered(
	ctx context.Context, d *models.WebhookDelivery, state attemptState, elapsed time.Duration,
) error {
	at := s.now()

	if err := s.deliveries.UpdateAttempt(ctx, d.ID, models.DeliveryAttemptUpdate{
		Status:         datatypes.DeliveryDelivered,
		Attempts:       state.attempts,
		LastStatusCode: state.statusCode,
		DeliveredAt:    &at,
	}); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordWebhookDelivery(ctx, d.EventType.String(), string(datatypes.DeliveryDelivered), elapsed)
	}

	slog.InfoContext(ctx, "webhook delivered", "attempts", state.attempts, "duration", elapsed)

	return nil
}

func (s *WebhookDeliveryService) markFailed(
	ctx context.Context, d *models.WebhookDelivery, state attemptState, cause error, elapsed time.Duration,
) error {
	if err := s.deliveries.UpdateAttempt(ctx, d.ID, models.DeliveryAttemptUpdate{
		Status:         datatypes.DeliveryFailed,
		Attempts:       state.attempts,
		LastStatusCode: state.statusCode,
		LastError:      state.lastError,
	}); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordWebhookDelivery(ctx, d.EventType.String(), string(datatypes.DeliveryFailed), elapsed)
	}

	s.raiseAlert(ctx, d.ID, models.AlertWarning, fmt.Sprintf("Webhook %s failed: %v", d.ID, cause))

	slog.WarnContext(ctx, "webhook delivery failed permanently", "attempts", state.attempts, "error", cause)

	return nil
}

func (s *WebhookDeliveryService) markExhausted(
	ctx context.Context, d *models.WebhookDelivery, state attemptState, elapsed time.Duration,
) error {
	reason := fmt.Sprintf("Max retries (%d) exceeded", d.MaxAttempts)
	if state.lastError != nil {
		reason += ": " + *state.lastError
	}

	entry, err := s.deliveries.MoveToDeadLetter(ctx,
		models.DeliveryAttemptUpdate{Attempts: state.attempts, LastStatusCode: state.statusCode, LastError: state.lastError},
		s.newDeadLetterEntry(d, reason, state.statusCode, state.attempts),
	)
	if err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.RecordWebhookDelivery(ctx, d.EventType.String(), string(datatypes.DeliveryDeadLetter), elapsed)
		s.metrics.RecordDeadLettered(ctx, "exhausted")
	}

	s.raiseAlert(ctx, d.ID, models.AlertCritical,
		fmt.Sprintf("Webhook %s moved to dead-letter queue after %d attempts", d.ID, state.attempts))
	s.recordAudit(ctx, auditEntityDelivery, d.ID.String(), "dead_lettered", map[string]any{
		"dead_letter_id": entry.ID.String(),
		"reason":         reason,
		"attempts":       state.attempts,
	})

	slog.ErrorContext(ctx, "webhook moved to dead-letter queue",
		"attempts", state.attempts,
		"dead_letter_id", entry.ID,
	)

	return nil
}

func (s *WebhookDeliveryService) recordAttempt(
	ctx context.Context, id uuid.UUID, attempt, code int, err error, delay time.Duration,
) {
	details := map[string]any{
		"attempt":     attempt,
		"status_code": code,
		"delay":       delay.Seconds(),
	}

	outcome := "success"

	if err != nil {
		details["error"] = err.Error()
		outcome = "terminal_failure"

		if IsRetryableDeliveryError(err) {
			outcome = "retryable_failure"
		}
	}

	if s.metrics != nil {
		s.metrics.RecordWebhookAttempt(ctx, outcome)
	}

	s.recordAudit(ctx, auditEntityDelivery, id.String(), "attempt", details)
}

func (s *WebhookDeliveryService) recordAudit(ctx context.Context, entityType, entityID, action string, details map[string]any) {
	err := s.audit.CreateAuditEntry(ctx, &models.AuditLogEntry{
		ID:         uuid.Must(uuid.NewV7()),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Details:    details,
		CreatedAt:  s.now(),
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to write audit entry",
			"entity_type", entityType,
			"entity_id", entityID,
			"action", action,
			"error", err,
		)
	}
}

func (s *WebhookDeliveryService) raiseAlert(ctx context.Context, webhookID uuid.UUID, severity models.AlertSeverity, message string) {
	err := s.audit.CreateAlert(ctx, &models.WebhookAlert{
		ID:        uuid.Must(uuid.NewV7()),
		WebhookID: webhookID,
		Severity:  severity,
		Message:   message,
		CreatedAt: s.now(),
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to write webhook alert", "webhook_id", webhookID, "error", err)
	}
}

// GetDelivery retrieves a single delivery.
func (s *WebhookDeliveryService) GetDelivery(ctx context.Context, id uuid.UUID) (*models.WebhookDelivery, error) {
	return s.deliveries.GetByID(ctx, id)
}

// ListDeliveries retrieves deliveries with optional filters.
func (s *WebhookDeliveryService) ListDeliveries(
	ctx context.Context, filters *models.ListWebhookDeliveriesFilters,
) (*models.ListWebhookDeliveriesResponse, error) {
	if filters.Limit <= 0 {
		filters.Limit = 100
	}

	deliveries, err := s.deliveries.List(ctx, filters)
	if err != nil {
		return nil, err
	}

	total, err := s.deliveries.Count(ctx, filters)
	if err != nil {
		return nil, err
	}

	return &models.ListWebhookDeliveriesResponse{
		Data:   deliveries,
		Total:  total,
		Limit:  filters.Limit,
		Offset: filters.Offset,
	}, nil
}

// ListDeadLetters retrieves dead-letter entries with optional filters.
func (s *WebhookDeliveryService) ListDeadLetters(
	ctx context.Context, filters *models.ListDeadLettersFilters,
) (*models.ListDeadLettersResponse, error) {
	if filters.Limit <= 0 {
		filters.Limit = 100
	}

	entries, err := s.deadLetters.List(ctx, filters)
	if err != nil {
		return nil, err
	}

	total, err := s.deadLetters.Count(ctx, filters)
	if err != nil {
		return nil, err
	}

	return &models.ListDeadLettersResponse{
		Data:   entries,
		Total:  total,
		Limit:  filters.Limit,
		Offset: filters.Offset,
	}, nil
}

// ReconcilePending re-enqueues every delivery left in a non-terminal state, e.g. after a restart.
// Enqueueing is idempotent per webhook id.
func (s *WebhookDeliveryService) ReconcilePending(ctx context.Context) (int, error) {
	enqueued := 0
	after := uuid.Nil

	for {
		page, err := s.deliveries.ListByStatus(ctx, datatypes.NonTerminalStatuses(), after, reconcileBatchSize)
		if err != nil {
			return enqueued, err
		}

		for _, d := range page {
			if err := s.inserter.InsertDelivery(ctx, d.ID); err != nil {
				return enqueued, fmt.Errorf("reconcile webhook %s: %w", d.ID, err)
			}

			enqueued++
		}

		if len(page) < reconcileBatchSize {
			break
		}

		after = page[len(page)-1].ID
	}

	if enqueued > 0 {
		slog.InfoContext(ctx, "re-enqueued pending webhook deliveries", "count", enqueued)
	}

	return enqueued, nil
}
