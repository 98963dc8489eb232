package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pharmaintel/hub/internal/datatypes"
	"github.com/pharmaintel/hub/internal/huberrors"
	"github.com/pharmaintel/hub/internal/models"
)

const deliveryColumns = `id, request_id, process_id, endpoint_id, event_type, payload, status,
	attempts, max_attempts, last_status_code, last_error, scheduled_at, delivered_at,
	next_retry_at, created_at, updated_at`

// WebhookDeliveriesRepository handles data access for webhook deliveries.
type WebhookDeliveriesRepository struct {
	db *pgxpool.Pool
}

// NewWebhookDeliveriesRepository creates a new webhook deliveries repository.
func NewWebhookDeliveriesRepository(db *pgxpool.Pool) *WebhookDeliveriesRepository {
	return &WebhookDeliveriesRepository{db: db}
}

func scanDelivery(row pgx.Row) (*models.WebhookDelivery, error) {
	var (
		d         models.WebhookDelivery
		eventType string
	)

	err := row.Scan(
		&d.ID, &d.RequestID, &d.ProcessID, &d.EndpointID, &eventType, &d.Payload, &d.Status,
		&d.Attempts, &d.MaxAttempts, &d.LastStatusCode, &d.LastError, &d.ScheduledAt, &d.DeliveredAt,
		&d.NextRetryAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	d.EventType, err = datatypes.ParseEventType(eventType)
	if err != nil {
		return nil, fmt.Errorf("delivery %s: %w", d.ID, err)
	}

	return &d, nil
}

// Create inserts a new delivery row.
func (r *WebhookDeliveriesRepository) Create(ctx context.Context, d *models.WebhookDelivery) (*models.WebhookDelivery, error) {
	query := `
		INSERT INTO webhook_deliveries (
			id, request_id, process_id, endpoint_id, event_type, payload, status,
			attempts, max_attempts, scheduled_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + deliveryColumns

	created, err := scanDelivery(r.db.QueryRow(ctx, query,
		d.ID, d.RequestID, d.ProcessID, d.EndpointID, d.EventType.String(), []byte(d.Payload), d.Status,
		d.Attempts, d.MaxAttempts, d.ScheduledAt,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, huberrors.NewConflictError("webhook delivery already exists")
		}

		return nil, fmt.Errorf("failed to create webhook delivery: %w", err)
	}

	return created, nil
}

// GetByID retrieves a single delivery by ID.
func (r *WebhookDeliveriesRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.WebhookDelivery, error) {
	d, err := scanDelivery(r.db.QueryRow(ctx, `SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NotFound(huberrors.ResourceWebhookDelivery)
		}

		return nil, fmt.Errorf("failed to get webhook delivery: %w", err)
	}

	return d, nil
}

func buildDeliveryFilterConditions(filters *models.ListWebhookDeliveriesFilters) (string, []any) {
	var b filterBuilder

	if filters.Status != nil {
		b.add("status = $%d", *filters.Status)
	}

	if filters.EndpointID != nil {
		b.add("endpoint_id = $%d", *filters.EndpointID)
	}

	if filters.RequestID != nil {
		b.add("request_id = $%d", *filters.RequestID)
	}

	return b.where(), b.args
}

func (r *WebhookDeliveriesRepository) query(ctx context.Context, query string, args ...any) ([]models.WebhookDelivery, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := []models.WebhookDelivery{}

	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook delivery: %w", err)
		}

		deliveries = append(deliveries, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook deliveries: %w", err)
	}

	return deliveries, nil
}

// List retrieves deliveries with optional filters, newest first.
func (r *WebhookDeliveriesRepository) List(ctx context.Context, filters *models.ListWebhookDeliveriesFilters) ([]models.WebhookDelivery, error) {
	whereClause, args := buildDeliveryFilterConditions(filters)
	query, args := paginate(`SELECT `+deliveryColumns+` FROM webhook_deliveries`+whereClause, args,
		"created_at DESC", filters.Limit, filters.Offset)

	return r.query(ctx, query, args...)
}

// Count returns the number of deliveries matching the filters.
func (r *WebhookDeliveriesRepository) Count(ctx context.Context, filters *models.ListWebhookDeliveriesFilters) (int64, error) {
	whereClause, args := buildDeliveryFilterConditions(filters)

	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM webhook_deliveries`+whereClause, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count webhook deliveries: %w", err)
	}

	return count, nil
}

// ListByStatus returns up to limit deliveries in any of the given states with ids after the given id,
// in id order. Ids are UUIDv7, so pass uuid.Nil for the oldest page and the last id seen for the next.
func (r *WebhookDeliveriesRepository) ListByStatus(
	ctx context.Context, statuses []datatypes.DeliveryStatus, after uuid.UUID, limit int,
) ([]models.WebhookDelivery, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}

	return r.query(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE status = ANY($1) AND id > $2 ORDER BY id ASC LIMIT $3`,
		names, after, limit)
}

const updateAttemptSQL = `
	UPDATE webhook_deliveries
	SET status = $1, attempts = $2, last_status_code = $3, last_error = $4,
		next_retry_at = $5, delivered_at = COALESCE($6, delivered_at), updated_at = $7
	WHERE id = $8`

// UpdateAttempt writes the outcome of one delivery attempt.
func (r *WebhookDeliveriesRepository) UpdateAttempt(ctx context.Context, id uuid.UUID, u models.DeliveryAttemptUpdate) error {
	result, err := r.db.Exec(ctx, updateAttemptSQL,
		u.Status, u.Attempts, u.LastStatusCode, u.LastError, u.NextRetryAt, u.DeliveredAt, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update webhook delivery: %w", err)
	}

	if result.RowsAffected() == 0 {
		return huberrors.NotFound(huberrors.ResourceWebhookDelivery)
	}

	return nil
}

// MoveToDeadLetter marks the delivery dead_letter and inserts its dead-letter entry in one transaction.
func (r *WebhookDeliveriesRepository) MoveToDeadLetter(
	ctx context.Context, u models.DeliveryAttemptUpdate, entry *models.DeadLetterEntry,
) (*models.DeadLetterEntry, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin dead-letter transaction: %w", err)
	}

	defer func() { _ = tx.Rollback(ctx) }()

	u.Status = datatypes.DeliveryDeadLetter

	result, err := tx.Exec(ctx, updateAttemptSQL,
		u.Status, u.Attempts, u.LastStatusCode, u.LastError, nil, nil, time.Now(), entry.WebhookID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark delivery dead-lettered: %w", err)
	}

	if result.RowsAffected() == 0 {
		return nil, huberrors.NotFound(huberrors.ResourceWebhookDelivery)
	}

	created, err := scanDeadLetter(tx.QueryRow(ctx, insertDeadLetterSQL,
		entry.ID, entry.WebhookID, entry.EndpointID, entry.RequestID, entry.ProcessID, []byte(entry.Payload),
		entry.FailureReason, entry.LastStatusCode, entry.AttemptsMade, entry.ManualInterventionRequired,
		entry.SweepCount, entry.NextSweepAt,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, huberrors.NewConflictError("delivery is already dead-lettered")
		}

		return nil, fmt.Errorf("failed to create dead-letter entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit dead-letter transaction: %w", err)
	}

	return created, nil
}

// ResolveDeadLetter marks the delivery delivered and the dead-letter entry resolved in one transaction.
func (r *WebhookDeliveriesRepository) ResolveDeadLetter(
	ctx context.Context, entryID, deliveryID uuid.UUID, attempts int, statusCode int, at time.Time,
) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin resolve transaction: %w", err)
	}

	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, updateAttemptSQL,
		datatypes.DeliveryDelivered, attempts, statusCode, nil, nil, at, at, deliveryID,
	); err != nil {
		return fmt.Errorf("failed to mark delivery delivered: %w", err)
	}

	result, err := tx.Exec(ctx,
		`UPDATE dead_letters SET resolved_at = $1, next_sweep_at = NULL WHERE id = $2 AND resolved_at IS NULL`,
		at, entryID)
	if err != nil {
		return fmt.Errorf("failed to resolve dead-letter entry: %w", err)
	}

	if result.RowsAffected() == 0 {
		return huberrors.NewConflictError("dead-letter entry is already resolved")
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit resolve transaction: %w", err)
	}

	return nil
}
