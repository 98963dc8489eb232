package models

import (
	"time"

	"github.com/google/uuid"
)

// SourceType is a tier of the source hierarchy.
type SourceType string

// Source hierarchy, most to least authoritative.
const (
	SourcePaidAPI      SourceType = "paid_api"
	SourceGovernment   SourceType = "government"
	SourcePeerReviewed SourceType = "peer_reviewed"
	SourceIndustry     SourceType = "industry"
	SourceCompany      SourceType = "company"
	SourceNews         SourceType = "news"
	SourceUnknown      SourceType = "unknown"
)

// VerificationStatus is the authenticator's verdict on a source.
type VerificationStatus string

// Verification statuses.
const (
	VerificationVerified   VerificationStatus = "verified"
	VerificationUnverified VerificationStatus = "unverified"
	VerificationFlagged    VerificationStatus = "flagged"
	VerificationBlocked    VerificationStatus = "blocked"
)

// SourceReference identifies where a piece of data came from.
type SourceReference struct {
	URL               string     `json:"url,omitempty" validate:"required_without=Provider,omitempty,no_null_bytes,max=2048"`
	Provider          string     `json:"provider,omitempty" validate:"omitempty,no_null_bytes,max=100"`
	Title             string     `json:"title,omitempty" validate:"omitempty,no_null_bytes,max=1000"`
	Authors           []string   `json:"authors,omitempty" validate:"omitempty,max=100,dive,no_null_bytes,max=255"`
	AuthorCredentials string     `json:"author_credentials,omitempty" validate:"omitempty,no_null_bytes,max=1000"`
	Journal           string     `json:"journal,omitempty" validate:"omitempty,no_null_bytes,max=500"`
	DOI               string     `json:"doi,omitempty" validate:"omitempty,no_null_bytes,max=255"`
	PublishedDate     *time.Time `json:"published_date,omitempty"`
	CredibilityScore  *float64   `json:"credibility_score,omitempty" validate:"omitempty,min=0,max=1"`
}

// SourceAuthenticationResult is the scored classification of a source.
type SourceAuthenticationResult struct {
	ID                 uuid.UUID          `json:"id"`
	ProcessID          string             `json:"process_id,omitempty"`
	SourceReference    SourceReference    `json:"source_reference"`
	Domain             string             `json:"domain,omitempty"`
	SourceType         SourceType         `json:"source_type"`
	AuthorityScore     int                `json:"authority_score"`
	RecencyScore       float64            `json:"recency_score"`
	CredibilityScore   float64            `json:"credibility_score"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	ConfidenceScore    float64            `json:"confidence_score"`
	Notes              []string           `json:"notes,omitempty"`
	AuthenticatedAt    time.Time          `json:"authenticated_at"`
}

// AuthenticateSourceRequest represents the request to authenticate one source.
type AuthenticateSourceRequest struct {
	SourceReference SourceReference `json:"source_reference"`
	ProcessID       string          `json:"process_id,omitempty" validate:"omitempty,no_null_bytes,max=255"`
}
