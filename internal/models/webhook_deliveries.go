package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/pharmaintel/hub/internal/datatypes"
)

// WebhookDelivery is one scheduled notification to one endpoint.
type WebhookDelivery struct {
	ID             uuid.UUID                `json:"webhook_id"`
	RequestID      string                   `json:"request_id"`
	ProcessID      string                   `json:"process_id,omitempty"`
	EndpointID     uuid.UUID                `json:"endpoint_id"`
	EventType      datatypes.EventType      `json:"type"`
	Payload        json.RawMessage          `json:"payload"`
	Status         datatypes.DeliveryStatus `json:"status"`
	Attempts       int                      `json:"attempts"`
	MaxAttempts    int                      `json:"max_attempts"`
	LastStatusCode *int                     `json:"last_status_code,omitempty"`
	LastError      *string                  `json:"last_error,omitempty"`
	ScheduledAt    time.Time                `json:"scheduled_at"`
	DeliveredAt    *time.Time               `json:"delivered_at,omitempty"`
	NextRetryAt    *time.Time               `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time                `json:"created_at"`
	UpdatedAt      time.Time                `json:"updated_at"`
}

// WebhookPayload is the JSON body sent to endpoints.
type WebhookPayload struct {
	RequestID string         `json:"requestId"`
	Status    string         `json:"status"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// ScheduleWebhookRequest represents the request to schedule a delivery.
type ScheduleWebhookRequest struct {
	RequestID  string              `json:"request_id" validate:"required,no_null_bytes,max=255"`
	ProcessID  string              `json:"process_id,omitempty" validate:"omitempty,no_null_bytes,max=255"`
	EndpointID uuid.UUID           `json:"endpoint_id" validate:"required"`
	Type       datatypes.EventType `json:"type" validate:"required,event_type"`
	Data       map[string]any      `json:"data,omitempty"`
}

// ScheduleWebhookResponse is returned after a delivery was accepted.
type ScheduleWebhookResponse struct {
	WebhookID uuid.UUID                `json:"webhook_id"`
	Status    datatypes.DeliveryStatus `json:"status"`
}

// DeliveryAttemptUpdate carries the columns written after each attempt.
type DeliveryAttemptUpdate struct {
	Status         datatypes.DeliveryStatus
	Attempts       int
	LastStatusCode *int
	LastError      *string
	NextRetryAt    *time.Time
	DeliveredAt    *time.Time
}

// ListWebhookDeliveriesFilters represents filters for listing deliveries.
type ListWebhookDeliveriesFilters struct {
	Status     *string `form:"status" validate:"omitempty,oneof=pending in_progress delivered failed retrying dead_letter"`
	EndpointID *string `form:"endpoint_id" validate:"omitempty,uuid"`
	RequestID  *string `form:"request_id" validate:"omitempty,no_null_bytes,max=255"`
	Limit      int     `form:"limit" validate:"omitempty,min=1,max=1000"`
	Offset     int     `form:"offset" validate:"omitempty,min=0"`
}

// ListWebhookDeliveriesResponse represents the response for listing deliveries.
type ListWebhookDeliveriesResponse struct {
	Data   []WebhookDelivery `json:"data"`
	Total  int64             `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// DeadLetterEntry records a delivery that needs manual or scheduled reprocessing.
type DeadLetterEntry struct {
	ID                         uuid.UUID       `json:"id"`
	WebhookID                  uuid.UUID       `json:"webhook_id"`
	EndpointID                 uuid.UUID       `json:"endpoint_id"`
	RequestID                  string          `json:"request_id"`
	ProcessID                  string          `json:"process_id,omitempty"`
	Payload                    json.RawMessage `json:"payload"`
	FailureReason              string          `json:"failure_reason"`
	LastStatusCode             *int            `json:"last_status_code,omitempty"`
	AttemptsMade               int             `json:"attempts_made"`
	ManualInterventionRequired bool            `json:"manual_intervention_required"`
	SweepCount                 int             `json:"sweep_count"`
	NextSweepAt                *time.Time      `json:"next_sweep_at,omitempty"`
	ResolvedAt                 *time.Time      `json:"resolved_at,omitempty"`
	CreatedAt                  time.Time       `json:"created_at"`
}

// ListDeadLettersFilters represents filters for listing dead-letter entries.
type ListDeadLettersFilters struct {
	Resolved   *bool   `form:"resolved"`
	EndpointID *string `form:"endpoint_id" validate:"omitempty,uuid"`
	Limit      int     `form:"limit" validate:"omitempty,min=1,max=1000"`
	Offset     int     `form:"offset" validate:"omitempty,min=0"`
}

// ListDeadLettersResponse represents the response for listing dead-letter entries.
type ListDeadLettersResponse struct {
	Data   []DeadLetterEntry `json:"data"`
	Total  int64             `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// DeadLetterSweepResult summarizes one sweep run.
type DeadLetterSweepResult struct {
	Examined  int `json:"examined"`
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// AlertSeverity grades an alert record.
type AlertSeverity string

// Alert severities.
const (
	AlertWarning  AlertSeverity = "warning"
	AlertCritical AlertSeverity = "critical"
)

// WebhookAlert is written whenever a delivery ends without success.
type WebhookAlert struct {
	ID        uuid.UUID     `json:"id"`
	WebhookID uuid.UUID     `json:"webhook_id"`
	Severity  AlertSeverity `json:"severity"`
	Message   string        `json:"message"`
	CreatedAt time.Time     `json:"created_at"`
}

// AuditLogEntry is an append-only record of a state change.
type AuditLogEntry struct {
	ID         uuid.UUID      `json:"id"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Action     string         `json:"action"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
