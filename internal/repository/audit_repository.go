package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pharmaintel/hub/internal/models"
)

// AuditRepository appends alert and audit-log rows.
type AuditRepository struct {
	db *pgxpool.Pool
}

// NewAuditRepository creates a new audit repository.
func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

// CreateAlert inserts an alert record.
func (r *AuditRepository) CreateAlert(ctx context.Context, a *models.WebhookAlert) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO webhook_alerts (id, webhook_id, severity, message, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.WebhookID, a.Severity, a.Message, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create webhook alert: %w", err)
	}

	return nil
}

// CreateAuditEntry inserts an audit-log row.
func (r *AuditRepository) CreateAuditEntry(ctx context.Context, e *models.AuditLogEntry) error {
	details := e.Details
	if details == nil {
		details = map[string]any{}
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO audit_log (id, entity_type, entity_id, action, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.EntityType, e.EntityID, e.Action, details, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	return nil
}

// ListAuditEntries returns the audit trail of one entity in insertion order.
func (r *AuditRepository) ListAuditEntries(ctx context.Context, entityType, entityID string) ([]models.AuditLogEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, entity_type, entity_id, action, details, created_at
		FROM audit_log
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at ASC, id ASC`, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []models.AuditLogEntry{}

	for rows.Next() {
		var e models.AuditLogEntry
		if err := rows.Scan(&e.ID, &e.EntityType, &e.EntityID, &e.Action, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}
