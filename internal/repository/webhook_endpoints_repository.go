package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pharmaintel/hub/internal/huberrors"
	"github.com/pharmaintel/hub/internal/models"
)

const endpointColumns = `id, name, url, method, headers, auth, signing_secret,
	encryption_enabled, encryption_key, timeout_seconds, active, created_at, updated_at`

// WebhookEndpointsRepository handles data access for webhook endpoints.
type WebhookEndpointsRepository struct {
	db *pgxpool.Pool
}

// NewWebhookEndpointsRepository creates a new webhook endpoints repository.
func NewWebhookEndpointsRepository(db *pgxpool.Pool) *WebhookEndpointsRepository {
	return &WebhookEndpointsRepository{db: db}
}

func scanEndpoint(row pgx.Row) (*models.WebhookEndpoint, error) {
	var e models.WebhookEndpoint

	err := row.Scan(
		&e.ID, &e.Name, &e.URL, &e.Method, &e.Headers, &e.Auth, &e.SigningSecret,
		&e.EncryptionEnabled, &e.EncryptionKey, &e.TimeoutSeconds, &e.Active, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &e, nil
}

// Create inserts a fully populated endpoint.
func (r *WebhookEndpointsRepository) Create(ctx context.Context, e *models.WebhookEndpoint) (*models.WebhookEndpoint, error) {
	headers := e.Headers
	if headers == nil {
		headers = map[string]string{}
	}

	query := `
		INSERT INTO webhook_endpoints (
			id, name, url, method, headers, auth, signing_secret,
			encryption_enabled, encryption_key, timeout_seconds, active
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + endpointColumns

	created, err := scanEndpoint(r.db.QueryRow(ctx, query,
		e.ID, e.Name, e.URL, e.Method, headers, e.Auth, e.SigningSecret,
		e.EncryptionEnabled, e.EncryptionKey, e.TimeoutSeconds, e.Active,
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, huberrors.NewConflictError("webhook endpoint already exists")
		}

		return nil, fmt.Errorf("failed to create webhook endpoint: %w", err)
	}

	return created, nil
}

// GetByID retrieves a single endpoint by ID.
func (r *WebhookEndpointsRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.WebhookEndpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM webhook_endpoints WHERE id = $1`

	e, err := scanEndpoint(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NotFound(huberrors.ResourceWebhookEndpoint)
		}

		return nil, fmt.Errorf("failed to get webhook endpoint: %w", err)
	}

	return e, nil
}

func buildEndpointFilterConditions(filters *models.ListWebhookEndpointsFilters) (string, []any) {
	var b filterBuilder

	if filters.Active != nil {
		b.add("active = $%d", *filters.Active)
	}

	return b.where(), b.args
}

// List retrieves endpoints with optional filters, newest first.
func (r *WebhookEndpointsRepository) List(ctx context.Context, filters *models.ListWebhookEndpointsFilters) ([]models.WebhookEndpoint, error) {
	whereClause, args := buildEndpointFilterConditions(filters)
	query, args := paginate(`SELECT `+endpointColumns+` FROM webhook_endpoints`+whereClause, args,
		"created_at DESC", filters.Limit, filters.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhook endpoints: %w", err)
	}
	defer rows.Close()

	endpoints := []models.WebhookEndpoint{}

	for rows.Next() {
		e, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook endpoint: %w", err)
		}

		endpoints = append(endpoints, *e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating webhook endpoints: %w", err)
	}

	return endpoints, nil
}

// Count returns the number of endpoints matching the filters.
func (r *WebhookEndpointsRepository) Count(ctx context.Context, filters *models.ListWebhookEndpointsFilters) (int64, error) {
	whereClause, args := buildEndpointFilterConditions(filters)

	var count int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM webhook_endpoints`+whereClause, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count webhook endpoints: %w", err)
	}

	return count, nil
}

func buildEndpointUpdate(req *models.UpdateWebhookEndpointRequest) ([]string, []any) {
	var (
		updates []string
		args    []any
	)

	set := func(column string, value any) {
		args = append(args, value)
		updates = append(updates, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if req.Name != nil {
		set("name", *req.Name)
	}

	if req.URL != nil {
		set("url", *req.URL)
	}

	if req.Method != nil {
		set("method", *req.Method)
	}

	if req.Headers != nil {
		set("headers", *req.Headers)
	}

	if req.Auth != nil {
		set("auth", *req.Auth)
	}

	if req.SigningSecret != nil {
		set("signing_secret", *req.SigningSecret)
	}

	if req.EncryptionEnabled != nil {
		set("encryption_enabled", *req.EncryptionEnabled)
	}

	if req.EncryptionKey != nil {
		set("encryption_key", *req.EncryptionKey)
	}

	if req.TimeoutSeconds != nil {
		set("timeout_seconds", *req.TimeoutSeconds)
	}

	if req.Active != nil {
		set("active", *req.Active)
	}

	return updates, args
}

// Update applies a partial update and returns the stored endpoint.
func (r *WebhookEndpointsRepository) Update(
	ctx context.Context, id uuid.UUID, req *models.UpdateWebhookEndpointRequest,
) (*models.WebhookEndpoint, error) {
	updates, args := buildEndpointUpdate(req)
	if len(updates) == 0 {
		return r.GetByID(ctx, id)
	}

	args = append(args, time.Now())
	updates = append(updates, fmt.Sprintf("updated_at = $%d", len(args)))
	args = append(args, id)

	query := fmt.Sprintf(`
		UPDATE webhook_endpoints
		SET %s
		WHERE id = $%d
		RETURNING `+endpointColumns, strings.Join(updates, ", "), len(args))

	e, err := scanEndpoint(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, huberrors.NotFound(huberrors.ResourceWebhookEndpoint)
		}

		return nil, fmt.Errorf("failed to update webhook endpoint: %w", err)
	}

	return e, nil
}

// Delete removes an endpoint and, through the foreign key, its deliveries.
func (r *WebhookEndpointsRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM webhook_endpoints WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook endpoint: %w", err)
	}

	if result.RowsAffected() == 0 {
		return huberrors.NotFound(huberrors.ResourceWebhookEndpoint)
	}

	return nil
}
