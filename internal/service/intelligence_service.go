package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pharmaintel/hub/internal/huberrors"
	"github.com/pharmaintel/hub/internal/merge"
	"github.com/pharmaintel/hub/internal/models"
	"github.com/pharmaintel/hub/internal/sourceauth"
)

// SourceAuthenticationsRepository persists authentication results.
type SourceAuthenticationsRepository interface {
	Create(ctx context.Context, res *models.SourceAuthenticationResult) error
}

// SourcesService authenticates source references.
type SourcesService struct {
	repo          SourceAuthenticationsRepository
	authenticator *sourceauth.Authenticator
}

// NewSourcesService creates a new sources service.
func NewSourcesService(repo SourceAuthenticationsRepository, authenticator *sourceauth.Authenticator) *SourcesService {
	return &SourcesService{repo: repo, authenticator: authenticator}
}

// AuthenticateSource scores a source and stores the result.
func (s *SourcesService) AuthenticateSource(
	ctx context.Context, req *models.AuthenticateSourceRequest,
) (*models.SourceAuthenticationResult, error) {
	res, err := s.authenticator.Authenticate(req.SourceReference, req.ProcessID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, res); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "source authenticated",
		"domain", res.Domain,
		"source_type", res.SourceType,
		"status", res.VerificationStatus,
		"confidence", res.ConfidenceScore,
	)

	return res, nil
}

// MergeRecordsRepository persists merge audit records.
type MergeRecordsRepository interface {
	CreateBatch(ctx context.Context, records []models.MergeRecord) error
	ListByMergeID(ctx context.Context, mergeID uuid.UUID) ([]models.MergeRecord, error)
}

// MergeService consolidates partial records from several sources.
type MergeService struct {
	repo   MergeRecordsRepository
	merger *merge.Merger
}

// NewMergeService creates a new merge service.
func NewMergeService(repo MergeRecordsRepository, merger *merge.Merger) *MergeService {
	return &MergeService{repo: repo, merger: merger}
}

func mergeError(err error) error {
	switch {
	case errors.Is(err, merge.ErrUnknownCategory):
		return huberrors.NewValidationError("category", err.Error())
	case errors.Is(err, merge.ErrNoSources):
		return huberrors.NewValidationError("sources", err.Error())
	default:
		return err
	}
}

// MergeComplementaryData merges the sources and appends one audit record per merged field.
func (s *MergeService) MergeComplementaryData(ctx context.Context, req *models.MergeRequest) (*models.MergeResult, error) {
	res, err := s.merger.MergeComplementaryData(req.Sources, req.Category)
	if err != nil {
		return nil, mergeError(err)
	}

	if err := s.repo.CreateBatch(ctx, res.Records); err != nil {
		return nil, err
	}

	if len(res.Issues) > 0 {
		slog.WarnContext(ctx, "merged record failed quality checks",
			"merge_id", res.MergeID,
			"category", res.Category,
			"issues", len(res.Issues),
		)
	}

	return res, nil
}

// EnrichIncompleteRecords fills gaps of the primary record and stores the records of the filled fields.
func (s *MergeService) EnrichIncompleteRecords(ctx context.Context, req *models.EnrichRequest) (*models.EnrichResult, error) {
	enriched, records, err := s.merger.EnrichIncompleteRecords(req.Primary, req.Supplementary, req.Category)
	if err != nil {
		return nil, mergeError(err)
	}

	out := &models.EnrichResult{
		Category: req.Category,
		Enriched: enriched,
		Records:  records,
	}

	if len(records) == 0 {
		return out, nil
	}

	out.MergeID = records[0].MergeID

	if err := s.repo.CreateBatch(ctx, records); err != nil {
		return nil, err
	}

	return out, nil
}

// GetMergeRecords returns the audit records written by one merge. A merge with no records is not found.
func (s *MergeService) GetMergeRecords(ctx context.Context, mergeID uuid.UUID) (*models.MergeRecordsResponse, error) {
	records, err := s.repo.ListByMergeID(ctx, mergeID)
	if err != nil {
		return nil, err
	}

	if len(records) == 0 {
		return nil, huberrors.NotFound(huberrors.ResourceMerge)
	}

	return &models.MergeRecordsResponse{MergeID: mergeID, Records: records}, nil
}
