package models

import (
	"time"

	"github.com/google/uuid"
)

// Endpoint defaults applied at registration.
const (
	DefaultEndpointMethod         = "POST"
	DefaultEndpointTimeoutSeconds = 30
)

// AuthType selects how outbound webhook requests authenticate against the receiver.
type AuthType string

// Supported endpoint authentication types.
const (
	AuthNone   AuthType = "none"
	AuthBearer AuthType = "bearer"
	AuthBasic  AuthType = "basic"
	AuthAPIKey AuthType = "api_key"
)

// EndpointAuth holds the credentials sent with each delivery.
type EndpointAuth struct {
	Type       AuthType `json:"type" validate:"omitempty,oneof=none bearer basic api_key"`
	Token      string   `json:"token,omitempty" validate:"required_if=Type bearer,required_if=Type api_key,no_null_bytes,max=4096"`
	Username   string   `json:"username,omitempty" validate:"required_if=Type basic,no_null_bytes,max=255"`
	Password   string   `json:"password,omitempty" validate:"no_null_bytes,max=1024"`
	HeaderName string   `json:"header_name,omitempty" validate:"no_null_bytes,max=255"`
}

// Redacted returns a copy safe to return from read endpoints.
func (a EndpointAuth) Redacted() EndpointAuth {
	out := a
	if out.Token != "" {
		out.Token = "********"
	}

	if out.Password != "" {
		out.Password = "********"
	}

	return out
}

// WebhookEndpoint is a registered receiver of webhook deliveries.
type WebhookEndpoint struct {
	ID                uuid.UUID         `json:"id"`
	Name              string            `json:"name,omitempty"`
	URL               string            `json:"url"`
	Method            string            `json:"method"`
	Headers           map[string]string `json:"headers,omitempty"`
	Auth              EndpointAuth      `json:"auth"`
	SigningSecret     string            `json:"signing_secret"`
	EncryptionEnabled bool              `json:"encryption_enabled"`
	EncryptionKey     string            `json:"encryption_key,omitempty"`
	TimeoutSeconds    int               `json:"timeout_seconds"`
	Active            bool              `json:"active"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// Timeout returns the per-request timeout for this endpoint.
func (e *WebhookEndpoint) Timeout() time.Duration {
	if e.TimeoutSeconds <= 0 {
		return DefaultEndpointTimeoutSeconds * time.Second
	}

	return time.Duration(e.TimeoutSeconds) * time.Second
}

// CreateWebhookEndpointRequest represents the request to register an endpoint.
type CreateWebhookEndpointRequest struct {
	Name              string            `json:"name,omitempty" validate:"omitempty,no_null_bytes,max=255"`
	URL               string            `json:"url" validate:"required,no_null_bytes,url,max=2048"`
	Method            string            `json:"method,omitempty" validate:"omitempty,oneof=POST PUT PATCH"`
	Headers           map[string]string `json:"headers,omitempty" validate:"omitempty,max=50"`
	Auth              *EndpointAuth     `json:"auth,omitempty"`
	SigningSecret     string            `json:"signing_secret,omitempty" validate:"omitempty,no_null_bytes,max=255"`
	EncryptionEnabled *bool             `json:"encryption_enabled,omitempty"`
	EncryptionKey     string            `json:"encryption_key,omitempty" validate:"omitempty,no_null_bytes,max=255"`
	TimeoutSeconds    *int              `json:"timeout_seconds,omitempty" validate:"omitempty,min=1,max=300"`
	Active            *bool             `json:"active,omitempty"`
}

// UpdateWebhookEndpointRequest represents a partial update; nil fields are left unchanged.
type UpdateWebhookEndpointRequest struct {
	Name              *string            `json:"name,omitempty" validate:"omitempty,no_null_bytes,max=255"`
	URL               *string            `json:"url,omitempty" validate:"omitempty,no_null_bytes,url,max=2048"`
	Method            *string            `json:"method,omitempty" validate:"omitempty,oneof=POST PUT PATCH"`
	Headers           *map[string]string `json:"headers,omitempty"`
	Auth              *EndpointAuth      `json:"auth,omitempty"`
	SigningSecret     *string            `json:"signing_secret,omitempty" validate:"omitempty,no_null_bytes,min=1,max=255"`
	EncryptionEnabled *bool              `json:"encryption_enabled,omitempty"`
	EncryptionKey     *string            `json:"encryption_key,omitempty" validate:"omitempty,no_null_bytes,max=255"`
	TimeoutSeconds    *int               `json:"timeout_seconds,omitempty" validate:"omitempty,min=1,max=300"`
	Active            *bool              `json:"active,omitempty"`
}

// ListWebhookEndpointsFilters represents filters for listing endpoints.
type ListWebhookEndpointsFilters struct {
	Active *bool `form:"active"`
	Limit  int   `form:"limit" validate:"omitempty,min=1,max=1000"`
	Offset int   `form:"offset" validate:"omitempty,min=0"`
}

// ListWebhookEndpointsResponse represents the response for listing endpoints.
type ListWebhookEndpointsResponse struct {
	Data   []WebhookEndpoint `json:"data"`
	Total  int64             `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}
