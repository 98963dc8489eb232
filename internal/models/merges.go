package models

import (
	"time"

	"github.com/google/uuid"
)

// MergeStrategy is an aggregation rule applied per field.
type MergeStrategy string

// Merge strategies.
const (
	MergeHighestConfidence MergeStrategy = "highest_confidence"
	MergeMostRecent        MergeStrategy = "most_recent"
	MergeConsensus         MergeStrategy = "consensus"
	MergeWeightedAverage   MergeStrategy = "weighted_average"
	MergeUnion             MergeStrategy = "union"
	MergeIntersection      MergeStrategy = "intersection"
	MergeSourcePriority    MergeStrategy = "source_priority"
)

// MergeSource is one source's partial record.
type MergeSource struct {
	SourceID        string         `json:"source_id" validate:"required,no_null_bytes,max=255"`
	SourceType      SourceType     `json:"source_type,omitempty" validate:"omitempty,oneof=paid_api government peer_reviewed industry company news unknown"`
	AuthorityScore  int            `json:"authority_score" validate:"min=0,max=10"`
	ConfidenceScore float64        `json:"confidence_score" validate:"min=0,max=1"`
	Timestamp       time.Time      `json:"timestamp"`
	Data            map[string]any `json:"data" validate:"required"`
}

// SourceValue is one source's value for a single field, as kept in the audit log.
type SourceValue struct {
	SourceID        string     `json:"source_id"`
	SourceType      SourceType `json:"source_type,omitempty"`
	Value           any        `json:"value"`
	AuthorityScore  int        `json:"authority_score"`
	ConfidenceScore float64    `json:"confidence_score"`
	Timestamp       time.Time  `json:"timestamp"`
}

// MergeRecord is the append-only audit entry for one merged field.
type MergeRecord struct {
	ID              uuid.UUID     `json:"id"`
	MergeID         uuid.UUID     `json:"merge_id"`
	Category        string        `json:"category"`
	FieldName       string        `json:"field_name"`
	OriginalValues  []SourceValue `json:"original_values"`
	MergedValue     any           `json:"merged_value"`
	MergeStrategy   MergeStrategy `json:"merge_strategy"`
	ConfidenceScore float64       `json:"confidence_score"`
	SourcesUsed     []string      `json:"sources_used"`
	CreatedAt       time.Time     `json:"created_at"`
}

// QualityIssue is a failed QA rule on a merged record.
type QualityIssue struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// MergeResult is the consolidated record plus its audit trail.
type MergeResult struct {
	MergeID  uuid.UUID      `json:"merge_id"`
	Category string         `json:"category"`
	Merged   map[string]any `json:"merged"`
	Records  []MergeRecord  `json:"records"`
	Issues   []QualityIssue `json:"issues,omitempty"`
}

// MergeRequest represents the request to merge complementary sources.
type MergeRequest struct {
	Category string        `json:"category" validate:"required,no_null_bytes,max=100"`
	Sources  []MergeSource `json:"sources" validate:"required,min=1,max=100,dive"`
}

// EnrichRequest represents the request to fill gaps in a primary record.
type EnrichRequest struct {
	Category      string         `json:"category" validate:"required,no_null_bytes,max=100"`
	Primary       map[string]any `json:"primary" validate:"required"`
	Supplementary []MergeSource  `json:"supplementary" validate:"required,min=1,max=100,dive"`
}

// EnrichResult is the primary record with its gaps filled, plus one record per filled field.
type EnrichResult struct {
	MergeID  uuid.UUID      `json:"merge_id"`
	Category string         `json:"category"`
	Enriched map[string]any `json:"enriched"`
	Records  []MergeRecord  `json:"records"`
}

// MergeRecordsResponse lists the audit records of one merge.
type MergeRecordsResponse struct {
	MergeID uuid.UUID     `json:"merge_id"`
	Records []MergeRecord `json:"records"`
}
