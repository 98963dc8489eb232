package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/pharmaintel/hub/internal/api/response"
	"github.com/pharmaintel/hub/internal/models"
)

// SourcesService defines the interface for source authentication.
type SourcesService interface {
	AuthenticateSource(ctx context.Context, req *models.AuthenticateSourceRequest) (*models.SourceAuthenticationResult, error)
}

// MergeService defines the interface for merging and enriching records.
type MergeService interface {
	MergeComplementaryData(ctx context.Context, req *models.MergeRequest) (*models.MergeResult, error)
	EnrichIncompleteRecords(ctx context.Context, req *models.EnrichRequest) (*models.EnrichResult, error)
	GetMergeRecords(ctx context.Context, mergeID uuid.UUID) (*models.MergeRecordsResponse, error)
}

// AnalysisService defines the interface for LLM analyses.
type AnalysisService interface {
	RunAnalysis(ctx context.Context, req *models.CreateAnalysisRequest) (*models.Analysis, error)
	GetAnalysis(ctx context.Context, id uuid.UUID) (*models.Analysis, error)
}

// IntelligenceHandler handles source authentication, merges and analyses.
type IntelligenceHandler struct {
	sources  SourcesService
	merges   MergeService
	analyses AnalysisService
}

// NewIntelligenceHandler creates a new intelligence handler.
func NewIntelligenceHandler(sources SourcesService, merges MergeService, analyses AnalysisService) *IntelligenceHandler {
	return &IntelligenceHandler{sources: sources, merges: merges, analyses: analyses}
}

// AuthenticateSource handles POST /v1/sources/authenticate.
func (h *IntelligenceHandler) AuthenticateSource(w http.ResponseWriter, r *http.Request) {
	var req models.AuthenticateSourceRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	res, err := h.sources.AuthenticateSource(r.Context(), &req)
	if err != nil {
		respondServiceError(w, r, err, "authenticate source")

		return
	}

	response.RespondJSON(w, http.StatusOK, res)
}

// Merge handles POST /v1/merges.
func (h *IntelligenceHandler) Merge(w http.ResponseWriter, r *http.Request) {
	var req models.MergeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	res, err := h.merges.MergeComplementaryData(r.Context(), &req)
	if err != nil {
		respondServiceError(w, r, err, "merge records")

		return
	}

	response.RespondJSON(w, http.StatusOK, res)
}

// Enrich handles POST /v1/merges/enrich.
func (h *IntelligenceHandler) Enrich(w http.ResponseWriter, r *http.Request) {
	var req models.EnrichRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	res, err := h.merges.EnrichIncompleteRecords(r.Context(), &req)
	if err != nil {
		respondServiceError(w, r, err, "enrich record")

		return
	}

	response.RespondJSON(w, http.StatusOK, res)
}

// GetMerge handles GET /v1/merges/{id}.
func (h *IntelligenceHandler) GetMerge(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "Merge")
	if !ok {
		return
	}

	res, err := h.merges.GetMergeRecords(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "get merge records")

		return
	}

	response.RespondJSON(w, http.StatusOK, res)
}

// CreateAnalysis handles POST /v1/analyses. A run where every provider failed is still stored and returned with 201.
func (h *IntelligenceHandler) CreateAnalysis(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAnalysisRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	a, err := h.analyses.RunAnalysis(r.Context(), &req)
	if err != nil {
		respondServiceError(w, r, err, "run analysis")

		return
	}

	response.RespondJSON(w, http.StatusCreated, a)
}

// GetAnalysis handles GET /v1/analyses/{id}.
func (h *IntelligenceHandler) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "Analysis")
	if !ok {
		return
	}

	a, err := h.analyses.GetAnalysis(r.Context(), id)
	if err != nil {
		respondServiceError(w, r, err, "get analysis")

		return
	}

	response.RespondJSON(w, http.StatusOK, a)
}
