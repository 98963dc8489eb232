package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/pharmaintel/hub/internal/api/response"
	"github.com/pharmaintel/hub/internal/api/validation"
	"github.com/pharmaintel/hub/internal/models"
)

// ConflictsService defines the interface for conflict detection and resolution.
type ConflictsService interface {
	DetectConflict(ctx context.Context, req *models.DetectConflictRequest) (*models.DetectConflictResponse, error)
	ResolveConflict(ctx context.Context, id uuid.UUID, req *models.ResolveConflictRequest) (*models.ConflictResolutionResult, error)
	GetConflict(ctx context.Context, id uuid.UUID) (*models.ConflictWithResolution, error)
	ListConflicts(ctx context.Context, filters *models.ListConflictsFilters) (*models.ListConflictsResponse, error)
}

// ConflictsHandler handles HTTP requests for conflicts.
type ConflictsHandler struct {
	service ConflictsService
}

// NewConflictsHandler creates a new conflicts handler.
func NewConflictsHandler(service ConflictsService) *ConflictsHandler {
	return &ConflictsHandler{service: service}
}

// Detect handles POST /v1/conflicts. It returns 201 when a conflict was recorded and 200 otherwise.
func (h *ConflictsHandler) Detect(w http.ResponseWriter, r *http.Request) {
	var req models.DetectConflictRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	resp, err := h.service.DetectConflict(r.Context(), &req)
	if err != nil {
		respondServiceError(w, r, err, "detect conflict")

		return
	}

	status := http.StatusOK
	if resp.Detected {
		status = http.StatusCreated
	}

	response.RespondJSON(w, status, resp)
}

// Get handles GET /v1/conflicts/{id}.
func (h *ConflictsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "Conflict")
	if !ok {
		return
	}

	c, err := h.service.GetConflict(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "get conflict")

		return
	}

	response.RespondJSON(w, http.StatusOK, c)
}

// List handles GET /v1/conflicts.
func (h *ConflictsHandler) List(w http.ResponseWriter, r *http.Request) {
	filters := &models.ListConflictsFilters{}

	if err := validation.ValidateAndDecodeQueryParams(r, filters); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	result, err := h.service.ListConflicts(r.Context(), filters)
	if err != nil {
		respondServiceError(w, r, err, "list conflicts")

		return
	}

	response.RespondJSON(w, http.StatusOK, result)
}

// Resolve handles POST /v1/conflicts/{id}/resolve. An empty body uses the recommended strategy.
func (h *ConflictsHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "Conflict")
	if !ok {
		return
	}

	var req models.ResolveConflictRequest
	if err := validation.DecodeJSON(r, &req); err != nil && !errors.Is(err, validation.ErrEmptyBody) {
		response.RespondBadRequest(w, "Invalid request body")

		return
	}

	if err := validation.ValidateStruct(&req); err != nil {
		validation.RespondValidationError(w, err)

		return
	}

	res, err := h.service.ResolveConflict(r.Context(), id, &req)
	if err != nil {
		respondServiceError(w, r, err, "resolve conflict")

		return
	}

	response.RespondJSON(w, http.StatusOK, res)
}
