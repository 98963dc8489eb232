package service

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/google/uuid"
	standardwebhooks "github.com/standard-webhooks/standard-webhooks/libraries/go"

	"github.com/pharmaintel/hub/internal/huberrors"
	"github.com/pharmaintel/hub/internal/models"
)

// WebhookEndpointsRepository defines the interface for webhook endpoint data access.
type WebhookEndpointsRepository interface {
	Create(ctx context.Context, e *models.WebhookEndpoint) (*models.WebhookEndpoint, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.WebhookEndpoint, error)
	List(ctx context.Context, filters *models.ListWebhookEndpointsFilters) ([]models.WebhookEndpoint, error)
	Count(ctx context.Context, filters *models.ListWebhookEndpointsFilters) (int64, error)
	Update(ctx context.Context, id uuid.UUID, req *models.UpdateWebhookEndpointRequest) (*models.WebhookEndpoint, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// WebhookEndpointsService handles business logic for webhook endpoints.
type WebhookEndpointsService struct {
	repo WebhookEndpointsRepository
}

// NewWebhookEndpointsService creates a new webhook endpoints service.
func NewWebhookEndpointsService(repo WebhookEndpointsRepository) *WebhookEndpointsService {
	return &WebhookEndpointsService{repo: repo}
}

// CreateEndpoint registers an endpoint, generating its signing secret and, when encryption is enabled
// without a key, its Fernet key.
func (s *WebhookEndpointsService) CreateEndpoint(
	ctx context.Context, req *models.CreateWebhookEndpointRequest,
) (*models.WebhookEndpoint, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate endpoint id: %w", err)
	}

	now := time.Now().UTC()
	e := &models.WebhookEndpoint{
		ID:             id,
		Name:           req.Name,
		URL:            req.URL,
		Method:         strings.ToUpper(req.Method),
		Headers:        req.Headers,
		Auth:           models.EndpointAuth{Type: models.AuthNone},
		SigningSecret:  req.SigningSecret,
		EncryptionKey:  req.EncryptionKey,
		TimeoutSeconds: models.DefaultEndpointTimeoutSeconds,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if e.Method == "" {
		e.Method = models.DefaultEndpointMethod
	}

	if req.Auth != nil {
		e.Auth = *req.Auth
		if e.Auth.Type == "" {
			e.Auth.Type = models.AuthNone
		}
	}

	if req.EncryptionEnabled != nil {
		e.EncryptionEnabled = *req.EncryptionEnabled
	}

	if req.TimeoutSeconds != nil {
		e.TimeoutSeconds = *req.TimeoutSeconds
	}

	if req.Active != nil {
		e.Active = *req.Active
	}

	if e.SigningSecret == "" {
		if e.SigningSecret, err = generateSigningSecret(); err != nil {
			return nil, err
		}
	} else if err := validateSigningSecret(e.SigningSecret); err != nil {
		return nil, err
	}

	if e.EncryptionKey != "" {
		if err := validateEncryptionKey(e.EncryptionKey); err != nil {
			return nil, err
		}
	} else if e.EncryptionEnabled {
		if e.EncryptionKey, err = generateEncryptionKey(); err != nil {
			return nil, err
		}
	}

	return s.repo.Create(ctx, e)
}

// generateSigningSecret returns a Standard Webhooks secret: "whsec_" + base64(32 random bytes).
func generateSigningSecret() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate signing secret: %w", err)
	}

	return "whsec_" + base64.StdEncoding.EncodeToString(key), nil
}

func generateEncryptionKey() (string, error) {
	var key fernet.Key
	if err := key.Generate(); err != nil {
		return "", fmt.Errorf("generate encryption key: %w", err)
	}

	return key.Encode(), nil
}

func validateSigningSecret(secret string) error {
	if _, err := standardwebhooks.NewWebhook(secret); err != nil {
		return huberrors.NewValidationError("signing_secret", "signing_secret must be a base64 key, optionally prefixed with whsec_")
	}

	return nil
}

func validateEncryptionKey(key string) error {
	if _, err := fernet.DecodeKey(key); err != nil {
		return huberrors.NewValidationError("encryption_key", "encryption_key must be a url-safe base64 Fernet key")
	}

	return nil
}

// GetEndpoint retrieves a single endpoint by ID.
func (s *WebhookEndpointsService) GetEndpoint(ctx context.Context, id uuid.UUID) (*models.WebhookEndpoint, error) {
	return s.repo.GetByID(ctx, id)
}

// ListEndpoints retrieves endpoints with optional filters.
func (s *WebhookEndpointsService) ListEndpoints(
	ctx context.Context, filters *models.ListWebhookEndpointsFilters,
) (*models.ListWebhookEndpointsResponse, error) {
	if filters.Limit <= 0 {
		filters.Limit = 100
	}

	endpoints, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, err
	}

	total, err := s.repo.Count(ctx, filters)
	if err != nil {
		return nil, err
	}

	return &models.ListWebhookEndpointsResponse{
		Data:   endpoints,
		Total:  total,
		Limit:  filters.Limit,
		Offset: filters.Offset,
	}, nil
}

// UpdateEndpoint applies a partial update. Enabling encryption on an endpoint without a key generates one.
func (s *WebhookEndpointsService) UpdateEndpoint(
	ctx context.Context, id uuid.UUID, req *models.UpdateWebhookEndpointRequest,
) (*models.WebhookEndpoint, error) {
	if req.SigningSecret != nil {
		if err := validateSigningSecret(*req.SigningSecret); err != nil {
			return nil, err
		}
	}

	if req.EncryptionKey != nil && *req.EncryptionKey != "" {
		if err := validateEncryptionKey(*req.EncryptionKey); err != nil {
			return nil, err
		}
	}

	if req.Method != nil {
		method := strings.ToUpper(*req.Method)
		req.Method = &method
	}

	if req.EncryptionEnabled != nil && *req.EncryptionEnabled && req.EncryptionKey == nil {
		current, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if current.EncryptionKey == "" {
			key, err := generateEncryptionKey()
			if err != nil {
				return nil, err
			}

			req.EncryptionKey = &key
		}
	}

	return s.repo.Update(ctx, id, req)
}

// DeleteEndpoint deletes an endpoint by ID. Its deliveries are removed with it.
func (s *WebhookEndpointsService) DeleteEndpoint(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}
