package service

import (
	"bytes"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pharmaintel/hub/internal/datatypes"
	"github.com/pharmaintel/hub/internal/huberrors"
	"github.com/pharmaintel/hub/internal/models"
)

// memStore backs the in-memory delivery, dead-letter and audit repositories used by service tests.
type memStore struct {
	mu          sync.Mutex
	deliveries  map[uuid.UUID]models.WebhookDelivery
	deadLetters map[uuid.UUID]models.DeadLetterEntry
	alerts      []models.WebhookAlert
	audit       []models.AuditLogEntry

	// activeEndpoint, when set, stands in for the endpoint join in ListDue.
	activeEndpoint func(id uuid.UUID) bool
}

func newMemStore() *memStore {
	return &memStore{
		deliveries:  map[uuid.UUID]models.WebhookDelivery{},
		deadLetters: map[uuid.UUID]models.DeadLetterEntry{},
	}
}

func (s *memStore) delivery(id uuid.UUID) models.WebhookDelivery {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.deliveries[id]
}

func (s *memStore) deadLetterFor(webhookID uuid.UUID) (models.DeadLetterEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.deadLetters {
		if e.WebhookID == webhookID {
			return e, true
		}
	}

	return models.DeadLetterEntry{}, false
}

func (s *memStore) auditActions(entityID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var actions []string

	for _, e := range s.audit {
		if e.EntityID == entityID {
			actions = append(actions, e.Action)
		}
	}

	return actions
}

type memDeliveries struct{ s *memStore }

func (r memDeliveries) Create(_ context.Context, d *models.WebhookDelivery) (*models.WebhookDelivery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := *d
	out.CreatedAt = d.ScheduledAt
	out.UpdatedAt = d.ScheduledAt
	r.s.deliveries[d.ID] = out

	return &out, nil
}

func (r memDeliveries) GetByID(_ context.Context, id uuid.UUID) (*models.WebhookDelivery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.deliveries[id]
	if !ok {
		return nil, huberrors.NotFound(huberrors.ResourceWebhookDelivery)
	}

	return &d, nil
}

func (r memDeliveries) List(_ context.Context, _ *models.ListWebhookDeliveriesFilters) ([]models.WebhookDelivery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]models.WebhookDelivery, 0, len(r.s.deliveries))
	for _, d := range r.s.deliveries {
		out = append(out, d)
	}

	return out, nil
}

func (r memDeliveries) Count(_ context.Context, _ *models.ListWebhookDeliveriesFilters) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return int64(len(r.s.deliveries)), nil
}

func (r memDeliveries) ListByStatus(
	_ context.Context, statuses []datatypes.DeliveryStatus, after uuid.UUID, limit int,
) ([]models.WebhookDelivery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []models.WebhookDelivery

	for _, d := range r.s.deliveries {
		if bytes.Compare(d.ID[:], after[:]) > 0 && slices.Contains(statuses, d.Status) {
			out = append(out, d)
		}
	}

	slices.SortFunc(out, func(a, b models.WebhookDelivery) int { return bytes.Compare(a.ID[:], b.ID[:]) })

	return out[:min(limit, len(out))], nil
}

func (r memDeliveries) UpdateAttempt(_ context.Context, id uuid.UUID, u models.DeliveryAttemptUpdate) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.deliveries[id]
	if !ok {
		return huberrors.NotFound(huberrors.ResourceWebhookDelivery)
	}

	d.Status = u.Status
	d.Attempts = u.Attempts
	d.LastStatusCode = u.LastStatusCode
	d.LastError = u.LastError
	d.NextRetryAt = u.NextRetryAt

	if u.DeliveredAt != nil {
		d.DeliveredAt = u.DeliveredAt
	}

	r.s.deliveries[id] = d

	return nil
}

func (r memDeliveries) MoveToDeadLetter(
	_ context.Context, u models.DeliveryAttemptUpdate, entry *models.DeadLetterEntry,
) (*models.DeadLetterEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d := r.s.deliveries[entry.WebhookID]
	d.Status = datatypes.DeliveryDeadLetter
	d.Attempts = u.Attempts
	d.LastStatusCode = u.LastStatusCode
	d.LastError = u.LastError
	d.NextRetryAt = nil
	r.s.deliveries[entry.WebhookID] = d

	r.s.deadLetters[entry.ID] = *entry
	out := *entry

	return &out, nil
}

func (r memDeliveries) ResolveDeadLetter(
	_ context.Context, entryID, deliveryID uuid.UUID, attempts int, statusCode int, at time.Time,
) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.deadLetters[entryID]
	if !ok {
		return huberrors.NotFound(huberrors.ResourceDeadLetter)
	}

	if e.ResolvedAt != nil {
		return huberrors.NewConflictError("dead-letter entry is already resolved")
	}

	e.ResolvedAt = &at
	e.NextSweepAt = nil
	r.s.deadLetters[entryID] = e

	d := r.s.deliveries[deliveryID]
	d.Status = datatypes.DeliveryDelivered
	d.Attempts = attempts
	d.LastStatusCode = &statusCode
	d.LastError = nil
	d.DeliveredAt = &at
	r.s.deliveries[deliveryID] = d

	return nil
}

type memDeadLetters struct{ s *memStore }

func (r memDeadLetters) GetByID(_ context.Context, id uuid.UUID) (*models.DeadLetterEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.deadLetters[id]
	if !ok {
		return nil, huberrors.NotFound(huberrors.ResourceDeadLetter)
	}

	return &e, nil
}

func (r memDeadLetters) List(_ context.Context, _ *models.ListDeadLettersFilters) ([]models.DeadLetterEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]models.DeadLetterEntry, 0, len(r.s.deadLetters))
	for _, e := range r.s.deadLetters {
		out = append(out, e)
	}

	return out, nil
}

func (r memDeadLetters) Count(_ context.Context, _ *models.ListDeadLettersFilters) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return int64(len(r.s.deadLetters)), nil
}

// ListDue mirrors the SQL: due, unresolved, endpoint active (when activeEndpoint is set), oldest checkpoint first.
func (r memDeadLetters) ListDue(_ context.Context, now time.Time, limit int) ([]models.DeadLetterEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []models.DeadLetterEntry

	for _, e := range r.s.deadLetters {
		if e.ResolvedAt != nil || e.NextSweepAt == nil || e.NextSweepAt.After(now) {
			continue
		}

		if r.s.activeEndpoint != nil && !r.s.activeEndpoint(e.EndpointID) {
			continue
		}

		out = append(out, e)
	}

	slices.SortFunc(out, func(a, b models.DeadLetterEntry) int { return a.NextSweepAt.Compare(*b.NextSweepAt) })

	return out[:min(limit, len(out))], nil
}

func (r memDeadLetters) RecordSweep(
	_ context.Context, id uuid.UUID, sweepCount int, nextSweepAt *time.Time, reason string, statusCode *int,
) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	e, ok := r.s.deadLetters[id]
	if !ok {
		return huberrors.NotFound(huberrors.ResourceDeadLetter)
	}

	e.SweepCount = sweepCount
	e.NextSweepAt = nextSweepAt
	e.FailureReason = reason
	e.LastStatusCode = statusCode
	r.s.deadLetters[id] = e

	return nil
}

type memAudit struct{ s *memStore }

func (r memAudit) CreateAlert(_ context.Context, a *models.WebhookAlert) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.alerts = append(r.s.alerts, *a)

	return nil
}

func (r memAudit) CreateAuditEntry(_ context.Context, e *models.AuditLogEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.audit = append(r.s.audit, *e)

	return nil
}

type staticEndpoints map[uuid.UUID]*models.WebhookEndpoint

func (m staticEndpoints) GetByID(_ context.Context, id uuid.UUID) (*models.WebhookEndpoint, error) {
	e, ok := m[id]
	if !ok {
		return nil, huberrors.NotFound(huberrors.ResourceWebhookEndpoint)
	}

	return e, nil
}

type sendResult struct {
	code int
	err  error
}

// scriptedSender replays results in order and repeats the last one.
type scriptedSender struct {
	mu      sync.Mutex
	results []sendResult
	calls   int
}

func (s *scriptedSender) Send(context.Context, *models.WebhookEndpoint, *models.WebhookDelivery) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++

	if len(s.results) == 0 {
		return 200, nil
	}

	i := min(s.calls-1, len(s.results)-1)

	return s.results[i].code, s.results[i].err
}

func ok200() sendResult { return sendResult{code: 200} }

func status(code int) sendResult {
	return sendResult{code: code, err: &DeliveryError{
		StatusCode: code,
		Retryable:  isRetryableStatus(code),
		Err:        errNon2xx,
	}}
}

type recordingInserter struct {
	mu  sync.Mutex
	ids []uuid.UUID
	err error
}

func (r *recordingInserter) InsertDelivery(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.err != nil {
		return r.err
	}

	r.ids = append(r.ids, id)

	return nil
}

type heldLease struct{}

func (heldLease) Acquire(context.Context, string, time.Duration) (func(), bool, error) {
	return nil, false, nil
}
