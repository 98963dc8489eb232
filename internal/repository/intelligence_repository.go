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

// SourceAuthenticationsRepository persists source authentication results.
type SourceAuthenticationsRepository struct {
	db *pgxpool.Pool
}

// NewSourceAuthenticationsRepository creates a new source authentications repository.
func NewSourceAuthenticationsRepository(db *pgxpool.Pool) *SourceAuthenticationsRepository {
	return &SourceAuthenticationsRepository{db: db}
}

// Create inserts one authentication result.
func (r *SourceAuthenticationsRepository) Create(ctx context.Context, res *models.SourceAuthenticationResult) error {
	notes := res.Notes
	if notes == nil {
		notes = []string{}
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO source_authentications (
			id, process_id, source_reference, domain, source_type, authority_score, recency_score,
			credibility_score, verification_status, confidence_score, notes, authenticated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		res.ID, res.ProcessID, res.SourceReference, res.Domain, res.SourceType, res.AuthorityScore, res.RecencyScore,
		res.CredibilityScore, res.VerificationStatus, res.ConfidenceScore, notes, res.AuthenticatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create source authentication: %w", err)
	}

	return nil
}

// MergeRecordsRepository appends merge audit records.
type MergeRecordsRepository struct {
	db *pgxpool.Pool
}

// NewMergeRecordsRepository creates a new merge records repository.
func NewMergeRecordsRepository(db *pgxpool.Pool) *MergeRecordsRepository {
	return &MergeRecordsRepository{db: db}
}

// CreateBatch inserts all records of one merge in a single round trip.
func (r *MergeRecordsRepository) CreateBatch(ctx context.Context, records []models.MergeRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}

	for _, rec := range records {
		originals, err := jsonValue(rec.OriginalValues)
		if err != nil {
			return err
		}

		merged, err := jsonValue(rec.MergedValue)
		if err != nil {
			return err
		}

		sources := rec.SourcesUsed
		if sources == nil {
			sources = []string{}
		}

		batch.Queue(`
			INSERT INTO merge_records (
				id, merge_id, category, field_name, original_values, merged_value,
				merge_strategy, confidence_score, sources_used, created_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			rec.ID, rec.MergeID, rec.Category, rec.FieldName, originals, merged,
			rec.MergeStrategy, rec.ConfidenceScore, sources, rec.CreatedAt,
		)
	}

	if err := r.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to create merge records: %w", err)
	}

	return nil
}

// ListByMergeID returns the records of one merge ordered by field name.
func (r *MergeRecordsRepository) ListByMergeID(ctx context.Context, mergeID uuid.UUID) ([]models.MergeRecord, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, merge_id, category, field_name, original_values, merged_value,
			merge_strategy, confidence_score, sources_used, created_at
		FROM merge_records
		WHERE merge_id = $1
		ORDER BY field_name ASC`, mergeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list merge records: %w", err)
	}
	defer rows.Close()

	records := []models.MergeRecord{}

	for rows.Next() {
		var (
			rec       models.MergeRecord
			originals []byte
			merged    []byte
		)

		if err := rows.Scan(
			&rec.ID, &rec.MergeID, &rec.Category, &rec.FieldName, &originals, &merged,
			&rec.MergeStrategy, &rec.ConfidenceScore, &rec.SourcesUsed, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan merge record: %w", err)
		}

		if err := json.Unmarshal(originals, &rec.OriginalValues); err != nil {
			return nil, fmt.Errorf("decode original values: %w", err)
		}

		if rec.MergedValue, err = decodeJSONValue(merged); err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating merge records: %w", err)
	}

	if len(records) == 0 {
		return nil, huberrors.NotFound(huberrors.ResourceMerge)
	}

	return records, nil
}

// AnalysesRepository persists LLM analyses.
type AnalysesRepository struct {
	db *pgxpool.Pool
}

// NewAnalysesRepository creates a new analyses repository.
func NewAnalysesRepository(db *pgxpool.Pool) *AnalysesRepository {
	return &AnalysesRepository{db: db}
}

// Create inserts an analysis.
func (r *AnalysesRepository) Create(ctx context.Context, a *models.Analysis) error {
	attempts := a.Attempts
	if attempts == nil {
		attempts = []models.ProviderAttempt{}
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO analyses (
			id, request_id, process_id, provider, model, prompt, content, status, error, attempts, webhook_id, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		a.ID, a.RequestID, a.ProcessID, a.Provider, a.Model, a.Prompt, a.Content, a.Status, a.Error,
		attempts, a.WebhookID, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create analysis: %w", err)
	}

	return nil
}

// SetWebhook links the analysis to the notification that reported it.
func (r *AnalysesRepository) SetWebhook(ctx context.Context, id, webhookID uuid.UUID) error {
	result, err := r.db.Exec(ctx, `UPDATE analyses SET webhook_id = $1 WHERE id = $2`, webhookID, id)
	if err != nil {
		return fmt.Errorf("failed to link analysis webhook: %w", err)
	}

	if result.RowsAffected() == 0 {
		return huberrors.NotFound(huberrors.ResourceAnalysis)
	}

	return nil
}

// GetByID retrieves a single analysis.
func (r *AnalysesRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Analysis, error) {
	var a models.Analysis

	err := r.db.QueryRow(ctx, `
		SELECT id, request_id, process_id, provider, model, prompt, content, status, error, attempts, webhook_id, created_at
		FROM analyses
		WHERE id = $1`, id,
	).Scan(
		&a.ID, &a.RequestID, &a.ProcessID, &a.Provider, &a.Model, &a.Prompt, &a.Content, &a.Status, &a.Error,
		&a.Attempts, &a.WebhookID, &a.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NotFound(huberrors.ResourceAnalysis)
		}

		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}

	return &a, nil
}
