package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pharmaintel/hub/internal/huberrors"
	"github.com/pharmaintel/hub/internal/models"
)

const conflictColumns = `id, category, field_name, conflict_type, data_points, severity,
	requires_manual_review, recommendation, status, detected_at`

// ConflictsRepository handles data access for detected conflicts and their resolutions.
type ConflictsRepository struct {
	db *pgxpool.Pool
}

// NewConflictsRepository creates a new conflicts repository.
func NewConflictsRepository(db *pgxpool.Pool) *ConflictsRepository {
	return &ConflictsRepository{db: db}
}

func scanConflict(row pgx.Row) (*models.ConflictDetectionResult, error) {
	var (
		c   models.ConflictDetectionResult
		raw []byte
	)

	err := row.Scan(
		&c.ConflictID, &c.Category, &c.FieldName, &c.ConflictType, &raw, &c.Severity,
		&c.RequiresManualReview, &c.Recommendation, &c.Status, &c.DetectedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(raw, &c.DataPoints); err != nil {
		return nil, fmt.Errorf("decode data points of conflict %s: %w", c.ConflictID, err)
	}

	return &c, nil
}

// Create persists a detection.
func (r *ConflictsRepository) Create(ctx context.Context, c *models.ConflictDetectionResult) error {
	points, err := jsonValue(c.DataPoints)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO conflicts (
			id, category, field_name, conflict_type, data_points, severity,
			requires_manual_review, recommendation, status, detected_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ConflictID, c.Category, c.FieldName, c.ConflictType, points, c.Severity,
		c.RequiresManualReview, c.Recommendation, c.Status, c.DetectedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return huberrors.NewConflictError("conflict already exists")
		}

		return fmt.Errorf("failed to create conflict: %w", err)
	}

	return nil
}

// GetByID returns a conflict together with its resolution, if any.
func (r *ConflictsRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.ConflictWithResolution, error) {
	c, err := scanConflict(r.db.QueryRow(ctx, `SELECT `+conflictColumns+` FROM conflicts WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NotFound(huberrors.ResourceConflict)
		}

		return nil, fmt.Errorf("failed to get conflict: %w", err)
	}

	out := &models.ConflictWithResolution{ConflictDetectionResult: *c}

	res, err := r.getResolution(ctx, id)
	if err != nil && !errors.Is(err, huberrors.ErrNotFound) {
		return nil, err
	}

	out.Resolution = res

	return out, nil
}

func (r *ConflictsRepository) getResolution(ctx context.Context, conflictID uuid.UUID) (*models.ConflictResolutionResult, error) {
	var (
		res        models.ConflictResolutionResult
		value      []byte
		auditTrail []byte
	)

	err := r.db.QueryRow(ctx, `
		SELECT id, conflict_id, resolved_value, strategy, confidence_score,
			contributing_sources, audit_trail, resolved_at
		FROM conflict_resolutions
		WHERE conflict_id = $1`, conflictID,
	).Scan(
		&res.ResolutionID, &res.ConflictID, &value, &res.Strategy, &res.ConfidenceScore,
		&res.ContributingSources, &auditTrail, &res.ResolvedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NotFound(huberrors.ResourceConflictResolution)
		}

		return nil, fmt.Errorf("failed to get conflict resolution: %w", err)
	}

	if res.ResolvedValue, err = decodeJSONValue(value); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(auditTrail, &res.AuditTrail); err != nil {
		return nil, fmt.Errorf("decode audit trail: %w", err)
	}

	return &res, nil
}

func buildConflictFilterConditions(filters *models.ListConflictsFilters) (string, []any) {
	var b filterBuilder

	if filters.Category != nil {
		b.add("category = $%d", *filters.Category)
	}

	if filters.RequiresManualReview != nil {
		b.add("requires_manual_review = $%d", *filters.RequiresManualReview)
	}

	if filters.Status != nil {
		b.add("status = $%d", *filters.Status)
	}

	return b.where(), b.args
}

// List retrieves conflicts with optional filters, newest first.
func (r *ConflictsRepository) List(ctx context.Context, filters *models.ListConflictsFilters) ([]models.ConflictDetectionResult, error) {
	whereClause, args := buildConflictFilterConditions(filters)
	query, args := paginate(`SELECT `+conflictColumns+` FROM conflicts`+whereClause, args,
		"detected_at DESC", filters.Limit, filters.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	conflicts := []models.ConflictDetectionResult{}

	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}

		conflicts = append(conflicts, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}

	return conflicts, nil
}

// Count returns the number of conflicts matching the filters.
func (r *ConflictsRepository) Count(ctx context.Context, filters *models.ListConflictsFilters) (int64, error) {
	whereClause, args := buildConflictFilterConditions(filters)

	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM conflicts`+whereClause, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count conflicts: %w", err)
	}

	return count, nil
}

// CreateResolution stores the one resolution of a conflict and marks the conflict resolved.
// A second resolution of the same conflict is a ConflictError.
func (r *ConflictsRepository) CreateResolution(ctx context.Context, res *models.ConflictResolutionResult) error {
	value, err := jsonValue(res.ResolvedValue)
	if err != nil {
		return err
	}

	auditTrail, err := jsonValue(res.AuditTrail)
	if err != nil {
		return err
	}

	sources := res.ContributingSources
	if sources == nil {
		sources = []string{}
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin resolution transaction: %w", err)
	}

	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO conflict_resolutions (
			id, conflict_id, resolved_value, strategy, confidence_score,
			contributing_sources, audit_trail, resolved_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		res.ResolutionID, res.ConflictID, value, res.Strategy, res.ConfidenceScore,
		sources, auditTrail, res.ResolvedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return huberrors.NewConflictError("conflict is already resolved")
		}

		return fmt.Errorf("failed to create conflict resolution: %w", err)
	}

	if _, err := tx.Exec(ctx, `UPDATE conflicts SET status = $1 WHERE id = $2`, models.ConflictResolved, res.ConflictID); err != nil {
		return fmt.Errorf("failed to mark conflict resolved: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit resolution transaction: %w", err)
	}

	return nil
}
