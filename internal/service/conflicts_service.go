package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pharmaintel/hub/internal/conflict"
	"github.com/pharmaintel/hub/internal/huberrors"
	"github.com/pharmaintel/hub/internal/models"
)

// ConflictsRepository defines the interface for conflict data access.
type ConflictsRepository interface {
	Create(ctx context.Context, c *models.ConflictDetectionResult) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.ConflictWithResolution, error)
	List(ctx context.Context, filters *models.ListConflictsFilters) ([]models.ConflictDetectionResult, error)
	Count(ctx context.Context, filters *models.ListConflictsFilters) (int64, error)
	CreateResolution(ctx context.Context, res *models.ConflictResolutionResult) error
}

// ConflictsService detects, persists and resolves cross-source conflicts.
type ConflictsService struct {
	repo ConflictsRepository
}

// NewConflictsService creates a new conflicts service.
func NewConflictsService(repo ConflictsRepository) *ConflictsService {
	return &ConflictsService{repo: repo}
}

// DetectConflict checks one field's data points and persists the conflict when one is found.
func (s *ConflictsService) DetectConflict(
	ctx context.Context, req *models.DetectConflictRequest,
) (*models.DetectConflictResponse, error) {
	c, err := conflict.Detect(req.Category, req.FieldName, req.DataPoints)
	if err != nil {
		if errors.Is(err, conflict.ErrInvalidDataPoint) {
			return nil, huberrors.NewValidationError("data_points", err.Error())
		}

		return nil, err
	}

	if c == nil {
		return &models.DetectConflictResponse{Detected: false}, nil
	}

	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "conflict detected",
		"conflict_id", c.ConflictID,
		"category", c.Category,
		"field", c.FieldName,
		"type", c.ConflictType,
		"severity", c.Severity,
		"manual_review", c.RequiresManualReview,
	)

	return &models.DetectConflictResponse{Detected: true, Conflict: c}, nil
}

// ResolveConflict resolves an open conflict with the requested or recommended strategy.
// A conflict can be resolved only once.
func (s *ConflictsService) ResolveConflict(
	ctx context.Context, id uuid.UUID, req *models.ResolveConflictRequest,
) (*models.ConflictResolutionResult, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if c.Resolution != nil || c.Status == models.ConflictResolved {
		return nil, huberrors.NewConflictError("conflict is already resolved")
	}

	res, err := conflict.Resolve(&c.ConflictDetectionResult, req.Strategy)
	if err != nil {
		if errors.Is(err, conflict.ErrUnknownStrategy) ||
			errors.Is(err, conflict.ErrNotApplicable) ||
			errors.Is(err, conflict.ErrNoDataPoints) {
			return nil, huberrors.NewValidationError("strategy", err.Error())
		}

		return nil, err
	}

	if err := s.repo.CreateResolution(ctx, res); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "conflict resolved",
		"conflict_id", id,
		"strategy", res.Strategy,
		"confidence", res.ConfidenceScore,
	)

	return res, nil
}

// GetConflict retrieves a conflict with its resolution, if any.
func (s *ConflictsService) GetConflict(ctx context.Context, id uuid.UUID) (*models.ConflictWithResolution, error) {
	return s.repo.GetByID(ctx, id)
}

// ListConflicts retrieves conflicts with optional filters.
func (s *ConflictsService) ListConflicts(
	ctx context.Context, filters *models.ListConflictsFilters,
) (*models.ListConflictsResponse, error) {
	if filters.Limit <= 0 {
		filters.Limit = 100
	}

	conflicts, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, err
	}

	total, err := s.repo.Count(ctx, filters)
	if err != nil {
		return nil, err
	}

	return &models.ListConflictsResponse{
		Data:   conflicts,
		Total:  total,
		Limit:  filters.Limit,
		Offset: filters.Offset,
	}, nil
}
