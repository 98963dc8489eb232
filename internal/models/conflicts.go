package models

import (
	"time"

	"github.com/google/uuid"
)

// ConflictType classifies how same-field values from different sources disagree.
type ConflictType string

// Conflict types.
const (
	ConflictNumericalVariance    ConflictType = "numerical_variance"
	ConflictCategoricalMismatch  ConflictType = "categorical_mismatch"
	ConflictDateDiscrepancy      ConflictType = "date_discrepancy"
	ConflictBooleanContradiction ConflictType = "boolean_contradiction"
	ConflictTextInconsistency    ConflictType = "text_inconsistency"
	ConflictMissingData          ConflictType = "missing_data"
)

// ResolutionStrategy selects how a conflict's winning value is picked.
type ResolutionStrategy string

// Resolution strategies.
const (
	StrategyHighestAuthority  ResolutionStrategy = "highest_authority"
	StrategyConsensusMajority ResolutionStrategy = "consensus_majority"
	StrategyWeightedAverage   ResolutionStrategy = "weighted_average"
	StrategyMostRecent        ResolutionStrategy = "most_recent"
	StrategyStatisticalMedian ResolutionStrategy = "statistical_median"
)

// ConflictStatus tracks whether a conflict has a persisted resolution.
type ConflictStatus string

// Conflict statuses.
const (
	ConflictOpen     ConflictStatus = "open"
	ConflictResolved ConflictStatus = "resolved"
)

// DataPoint is one source's value for a field.
type DataPoint struct {
	Value           any       `json:"value"`
	SourceID        string    `json:"source_id" validate:"required,no_null_bytes,max=255"`
	AuthorityScore  int       `json:"authority_score" validate:"min=0,max=10"`
	ConfidenceScore float64   `json:"confidence_score" validate:"min=0,max=1"`
	Timestamp       time.Time `json:"timestamp"`
}

// ConflictDetectionResult describes a detected disagreement.
type ConflictDetectionResult struct {
	ConflictID           uuid.UUID          `json:"conflict_id"`
	Category             string             `json:"category"`
	FieldName            string             `json:"field_name"`
	ConflictType         ConflictType       `json:"conflict_type"`
	DataPoints           []DataPoint        `json:"data_points"`
	Severity             float64            `json:"severity"`
	RequiresManualReview bool               `json:"requires_manual_review"`
	Recommendation       ResolutionStrategy `json:"recommendation"`
	Status               ConflictStatus     `json:"status"`
	DetectedAt           time.Time          `json:"detected_at"`
}

// AuditEntry is one step of a resolution's reasoning.
type AuditEntry struct {
	Step   string    `json:"step"`
	Detail string    `json:"detail"`
	At     time.Time `json:"at"`
}

// ConflictResolutionResult is the persisted outcome of resolving a conflict.
type ConflictResolutionResult struct {
	ResolutionID        uuid.UUID          `json:"resolution_id"`
	ConflictID          uuid.UUID          `json:"conflict_id"`
	ResolvedValue       any                `json:"resolved_value"`
	Strategy            ResolutionStrategy `json:"strategy"`
	ConfidenceScore     float64            `json:"confidence_score"`
	ContributingSources []string           `json:"contributing_sources"`
	AuditTrail          []AuditEntry       `json:"audit_trail"`
	ResolvedAt          time.Time          `json:"resolved_at"`
}

// DetectConflictRequest represents the request to check one field for conflicts.
type DetectConflictRequest struct {
	Category   string      `json:"category" validate:"required,no_null_bytes,max=100"`
	FieldName  string      `json:"field_name" validate:"required,no_null_bytes,max=255"`
	DataPoints []DataPoint `json:"data_points" validate:"required,min=1,max=100,dive"`
}

// DetectConflictResponse wraps a detection; Conflict is nil when the sources agree.
type DetectConflictResponse struct {
	Detected bool                     `json:"detected"`
	Conflict *ConflictDetectionResult `json:"conflict,omitempty"`
}

// ResolveConflictRequest optionally overrides the recommended strategy.
type ResolveConflictRequest struct {
	Strategy *ResolutionStrategy `json:"strategy,omitempty" validate:"omitempty,oneof=highest_authority consensus_majority weighted_average most_recent statistical_median"`
}

// ConflictWithResolution is the read model of a conflict.
type ConflictWithResolution struct {
	ConflictDetectionResult
	Resolution *ConflictResolutionResult `json:"resolution,omitempty"`
}

// ListConflictsFilters represents filters for listing conflicts.
type ListConflictsFilters struct {
	Category             *string `form:"category" validate:"omitempty,no_null_bytes,max=100"`
	RequiresManualReview *bool   `form:"requires_manual_review"`
	Status               *string `form:"status" validate:"omitempty,oneof=open resolved"`
	Limit                int     `form:"limit" validate:"omitempty,min=1,max=1000"`
	Offset               int     `form:"offset" validate:"omitempty,min=0"`
}

// ListConflictsResponse represents the response for listing conflicts.
type ListConflictsResponse struct {
	Data   []ConflictDetectionResult `json:"data"`
	Total  int64                     `json:"total"`
	Limit  int                       `json:"limit"`
	Offset int                       `json:"offset"`
}
