package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pharmaintel/hub/internal/huberrors"
	"github.com/pharmaintel/hub/internal/models"
)

const deadLetterColumns = `id, webhook_id, endpoint_id, request_id, process_id, payload, failure_reason,
	last_status_code, attempts_made, manual_intervention_required, sweep_count, next_sweep_at,
	resolved_at, created_at`

const insertDeadLetterSQL = `
	INSERT INTO dead_letters (
		id, webhook_id, endpoint_id, request_id, process_id, payload, failure_reason,
		last_status_code, attempts_made, manual_intervention_required, sweep_count, next_sweep_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	RETURNING ` + deadLetterColumns

// DeadLettersRepository handles data access for dead-letter entries.
type DeadLettersRepository struct {
	db *pgxpool.Pool
}

// NewDeadLettersRepository creates a new dead-letter repository.
func NewDeadLettersRepository(db *pgxpool.Pool) *DeadLettersRepository {
	return &DeadLettersRepository{db: db}
}

func scanDeadLetter(row pgx.Row) (*models.DeadLetterEntry, error) {
	var e models.DeadLetterEntry

	err := row.Scan(
		&e.ID, &e.WebhookID, &e.EndpointID, &e.RequestID, &e.ProcessID, &e.Payload, &e.FailureReason,
		&e.LastStatusCode, &e.AttemptsMade, &e.ManualInterventionRequired, &e.SweepCount, &e.NextSweepAt,
		&e.ResolvedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &e, nil
}

// GetByID retrieves a single dead-letter entry.
func (r *DeadLettersRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DeadLetterEntry, error) {
	e, err := scanDeadLetter(r.db.QueryRow(ctx, `SELECT `+deadLetterColumns+` FROM dead_letters WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NotFound(huberrors.ResourceDeadLetter)
		}

		return nil, fmt.Errorf("failed to get dead-letter entry: %w", err)
	}

	return e, nil
}

func buildDeadLetterFilterConditions(filters *models.ListDeadLettersFilters) (string, []any) {
	var b filterBuilder

	if filters.Resolved != nil {
		if *filters.Resolved {
			b.addRaw("resolved_at IS NOT NULL")
		} else {
			b.addRaw("resolved_at IS NULL")
		}
	}

	if filters.EndpointID != nil {
		b.add("endpoint_id = $%d", *filters.EndpointID)
	}

	return b.where(), b.args
}

func (r *DeadLettersRepository) query(ctx context.Context, query string, args ...any) ([]models.DeadLetterEntry, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead-letter entries: %w", err)
	}
	defer rows.Close()

	entries := []models.DeadLetterEntry{}

	for rows.Next() {
		e, err := scanDeadLetter(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead-letter entry: %w", err)
		}

		entries = append(entries, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dead-letter entries: %w", err)
	}

	return entries, nil
}

// List retrieves dead-letter entries with optional filters, newest first.
func (r *DeadLettersRepository) List(ctx context.Context, filters *models.ListDeadLettersFilters) ([]models.DeadLetterEntry, error) {
	whereClause, args := buildDeadLetterFilterConditions(filters)
	query, args := paginate(`SELECT `+deadLetterColumns+` FROM dead_letters`+whereClause, args,
		"created_at DESC", filters.Limit, filters.Offset)

	return r.query(ctx, query, args...)
}

// Count returns the number of dead-letter entries matching the filters.
func (r *DeadLettersRepository) Count(ctx context.Context, filters *models.ListDeadLettersFilters) (int64, error) {
	whereClause, args := buildDeadLetterFilterConditions(filters)

	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letters`+whereClause, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count dead-letter entries: %w", err)
	}

	return count, nil
}

// ListDue returns unresolved entries whose next sweep is at or before now, oldest first. Entries whose
// endpoint is missing or inactive are left out and come due again once the endpoint is reactivated.
func (r *DeadLettersRepository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.DeadLetterEntry, error) {
	return r.query(ctx, `
		SELECT `+deadLetterColumns+`
		FROM dead_letters
		WHERE resolved_at IS NULL AND next_sweep_at IS NOT NULL AND next_sweep_at <= $1
			AND EXISTS (
				SELECT 1 FROM webhook_endpoints e
				WHERE e.id = dead_letters.endpoint_id AND e.active
			)
		ORDER BY next_sweep_at ASC
		LIMIT $2`, now, limit)
}

// RecordSweep stores a failed sweep attempt. A nil nextSweepAt ends scheduled sweeping.
func (r *DeadLettersRepository) RecordSweep(
	ctx context.Context, id uuid.UUID, sweepCount int, nextSweepAt *time.Time, reason string, statusCode *int,
) error {
	result, err := r.db.Exec(ctx, `
		UPDATE dead_letters
		SET sweep_count = $1, next_sweep_at = $2, failure_reason = $3,
			last_status_code = COALESCE($4, last_status_code)
		WHERE id = $5`,
		sweepCount, nextSweepAt, reason, statusCode, id)
	if err != nil {
		return fmt.Errorf("failed to record dead-letter sweep: %w", err)
	}

	if result.RowsAffected() == 0 {
		return huberrors.NotFound(huberrors.ResourceDeadLetter)
	}

	return nil
}
