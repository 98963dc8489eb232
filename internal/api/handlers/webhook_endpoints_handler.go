package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/pharmaintel/hub/internal/api/response"
	"github.com/pharmaintel/hub/internal/api/validation"
	"github.com/pharmaintel/hub/internal/models"
)

// WebhookEndpointsService defines the interface for webhook endpoint management.
type WebhookEndpointsService interface {
	CreateEndpoint(ctx context.Context, req *models.CreateWebhookEndpointRequest) (*models.WebhookEndpoint, error)
	GetEndpoint(ctx context.Context, id uuid.UUID) (*models.WebhookEndpoint, error)
	ListEndpoints(ctx context.Context, filters *models.ListWebhookEndpointsFilters) (*models.ListWebhookEndpointsResponse, error)
	UpdateEndpoint(ctx context.Context, id uuid.UUID, req *models.UpdateWebhookEndpointRequest) (*models.WebhookEndpoint, error)
	DeleteEndpoint(ctx context.Context, id uuid.UUID) error
}

// WebhookEndpointsHandler handles HTTP requests for webhook endpoints.
type WebhookEndpointsHandler struct {
	service WebhookEndpointsService
}

// NewWebhookEndpointsHandler creates a new webhook endpoints handler.
func NewWebhookEndpointsHandler(service WebhookEndpointsService) *WebhookEndpointsHandler {
	return &WebhookEndpointsHandler{service: service}
}

// Create handles POST /v1/webhook-endpoints.
func (h *WebhookEndpointsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req models.CreateWebhookEndpointRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	endpoint, err := h.service.CreateEndpoint(r.Context(), &req)
	if err != nil {
		respondServiceError(w, r, err, "create webhook endpoint")

		return
	}

	response.RespondJSON(w, http.StatusCreated, endpoint)
}

// Get handles GET /v1/webhook-endpoints/{id}.
func (h *WebhookEndpointsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "Webhook endpoint")
	if !ok {
		return
	}

	endpoint, err := h.service.GetEndpoint(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "get webhook endpoint")

		return
	}

	response.RespondJSON(w, http.StatusOK, endpoint)
}

// List handles GET /v1/webhook-endpoints.
func (h *WebhookEndpointsHandler) List(w http.ResponseWriter, r *http.Request) {
	filters := &models.ListWebhookEndpointsFilters{}

	if err := validation.ValidateAndDecodeQueryParams(r, filters); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	result, err := h.service.ListEndpoints(r.Context(), filters)
	if err != nil {
		respondServiceError(w, r, err, "list webhook endpoints")

		return
	}

	response.RespondJSON(w, http.StatusOK, result)
}

// Update handles PATCH /v1/webhook-endpoints/{id}.
func (h *WebhookEndpointsHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "Webhook endpoint")
	if !ok {
		return
	}

	var req models.UpdateWebhookEndpointRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	endpoint, err := h.service.UpdateEndpoint(r.Context(), id, &req)
	if err != nil {
		respondServiceError(w, r, err, "update webhook endpoint")

		return
	}

	response.RespondJSON(w, http.StatusOK, endpoint)
}

// Delete handles DELETE /v1/webhook-endpoints/{id}.
func (h *WebhookEndpointsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "Webhook endpoint")
	if !ok {
		return
	}

	if err := h.service.DeleteEndpoint(r.Context(), id); err != nil {
		respondServiceError(w, r, err, "delete webhook endpoint")

		return
	}

	w.WriteHeader(http.StatusNoContent)
}
