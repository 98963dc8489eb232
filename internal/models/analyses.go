package models

import (
	"time"

	"github.com/google/uuid"
)

// AnalysisStatus is the outcome of an analysis run.
type AnalysisStatus string

// Analysis statuses.
const (
	AnalysisCompleted AnalysisStatus = "completed"
	AnalysisFailed    AnalysisStatus = "failed"
)

// ProviderAttempt records one provider call inside an analysis run.
type ProviderAttempt struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Error    string `json:"error,omitempty"`
}

// Analysis is a persisted LLM analysis.
type Analysis struct {
	ID        uuid.UUID         `json:"id"`
	RequestID string            `json:"request_id"`
	ProcessID string            `json:"process_id,omitempty"`
	Provider  string            `json:"provider,omitempty"`
	Model     string            `json:"model,omitempty"`
	Prompt    string            `json:"prompt"`
	Content   string            `json:"content,omitempty"`
	Status    AnalysisStatus    `json:"status"`
	Error     *string           `json:"error,omitempty"`
	Attempts  []ProviderAttempt `json:"attempts"`
	WebhookID *uuid.UUID        `json:"webhook_id,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// CreateAnalysisRequest represents the request to run an analysis.
type CreateAnalysisRequest struct {
	RequestID   string     `json:"request_id" validate:"required,no_null_bytes,max=255"`
	ProcessID   string     `json:"process_id,omitempty" validate:"omitempty,no_null_bytes,max=255"`
	Prompt      string     `json:"prompt" validate:"required,no_null_bytes,min=1,max=50000"`
	Providers   []string   `json:"providers,omitempty" validate:"omitempty,max=5,dive,oneof=openai gemini"`
	Temperature *float64   `json:"temperature,omitempty" validate:"omitempty,min=0,max=2"`
	MaxTokens   *int       `json:"max_tokens,omitempty" validate:"omitempty,min=1,max=32000"`
	EndpointID  *uuid.UUID `json:"endpoint_id,omitempty"`
}
