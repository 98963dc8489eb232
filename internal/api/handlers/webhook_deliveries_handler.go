package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/pharmaintel/hub/internal/api/response"
	"github.com/pharmaintel/hub/internal/api/validation"
	"github.com/pharmaintel/hub/internal/models"
)

// WebhookDeliveryService defines the interface for scheduling and inspecting deliveries.
type WebhookDeliveryService interface {
	ScheduleWebhook(ctx context.Context, req *models.ScheduleWebhookRequest) (*models.ScheduleWebhookResponse, error)
	DeliverWebhook(ctx context.Context, id uuid.UUID) (*models.WebhookDelivery, error)
	GetDelivery(ctx context.Context, id uuid.UUID) (*models.WebhookDelivery, error)
	ListDeliveries(ctx context.Context, filters *models.ListWebhookDeliveriesFilters) (*models.ListWebhookDeliveriesResponse, error)
	ListDeadLetters(ctx context.Context, filters *models.ListDeadLettersFilters) (*models.ListDeadLettersResponse, error)
	RetryDeadLetter(ctx context.Context, id uuid.UUID) (*models.DeadLetterEntry, error)
}

// WebhookDeliveriesHandler handles HTTP requests for deliveries and dead letters.
type WebhookDeliveriesHandler struct {
	service WebhookDeliveryService
}

// NewWebhookDeliveriesHandler creates a new deliveries handler.
func NewWebhookDeliveriesHandler(service WebhookDeliveryService) *WebhookDeliveriesHandler {
	return &WebhookDeliveriesHandler{service: service}
}

// Schedule handles POST /v1/webhook-deliveries. The delivery runs asynchronously; the response is 202.
func (h *WebhookDeliveriesHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	var req models.ScheduleWebhookRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.ScheduleWebhook(r.Context(), &req)
	if err != nil {
		respondServiceError(w, r, err, "schedule webhook")

		return
	}

	response.RespondJSON(w, http.StatusAccepted, resp)
}

// Get handles GET /v1/webhook-deliveries/{id}.
func (h *WebhookDeliveriesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "Webhook")
	if !ok {
		return
	}

	d, err := h.service.GetDelivery(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "get webhook delivery")

		return
	}

	response.RespondJSON(w, http.StatusOK, d)
}

// List handles GET /v1/webhook-deliveries.
func (h *WebhookDeliveriesHandler) List(w http.ResponseWriter, r *http.Request) {
	filters := &models.ListWebhookDeliveriesFilters{}

	if err := validation.ValidateAndDecodeQueryParams(r, filters); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	result, err := h.service.ListDeliveries(r.Context(), filters)
	if err != nil {
		respondServiceError(w, r, err, "list webhook deliveries")

		return
	}

	response.RespondJSON(w, http.StatusOK, result)
}

// Deliver handles POST /v1/webhook-deliveries/{id}/deliver. It runs the retry loop synchronously
// and returns the delivery in its final state.
func (h *WebhookDeliveriesHandler) Deliver(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "Webhook")
	if !ok {
		return
	}

	d, err := h.service.DeliverWebhook(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "deliver webhook")

		return
	}

	response.RespondJSON(w, http.StatusOK, d)
}

// ListDeadLetters handles GET /v1/dead-letters.
func (h *WebhookDeliveriesHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	filters := &models.ListDeadLettersFilters{}

	if err := validation.ValidateAndDecodeQueryParams(r, filters); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	result, err := h.service.ListDeadLetters(r.Context(), filters)
	if err != nil {
		respondServiceError(w, r, err, "list dead letters")

		return
	}

	response.RespondJSON(w, http.StatusOK, result)
}

// RetryDeadLetter handles POST /v1/dead-letters/{id}/retry.
func (h *WebhookDeliveriesHandler) RetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "Dead letter")
	if !ok {
		return
	}

	entry, err := h.service.RetryDeadLetter(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "retry dead letter")

		return
	}

	response.RespondJSON(w, http.StatusOK, entry)
}
