package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// ErrorHandler logs job errors and panics with the webhook id when the job carries one.
// Delivery outcomes are persisted by the service, so River's retry schedule is left alone.
type ErrorHandler struct{}

// jobAttrs returns the log attributes shared by error and panic records.
func jobAttrs(job *rivertype.JobRow) []any {
	attrs := []any{
		"job_kind", job.Kind,
		"job_id", job.ID,
		"queue", job.Queue,
		"attempt", job.Attempt,
		"max_attempts", job.MaxAttempts,
	}

	if job.Kind == KindWebhookDelivery {
		var args WebhookDeliveryArgs
		if err := json.Unmarshal(job.EncodedArgs, &args); err == nil {
			attrs = append(attrs, "webhook_id", args.WebhookID)
		}
	}

	return attrs
}

// HandleError is called when a job returns an error. Snoozes never reach it.
func (h *ErrorHandler) HandleError(ctx context.Context, job *rivertype.JobRow, err error) *river.ErrorHandlerResult {
	level := slog.LevelError
	if job.Attempt < job.MaxAttempts {
		level = slog.LevelWarn
	}

	slog.Log(ctx, level, "job failed", append(jobAttrs(job), "error", err)...)

	return nil
}

// HandlePanic is called when a job panics. The job is discarded rather than retried.
func (h *ErrorHandler) HandlePanic(ctx context.Context, job *rivertype.JobRow, panicVal any, trace string) *river.ErrorHandlerResult {
	slog.ErrorContext(ctx, "job panicked", append(jobAttrs(job), "panic_value", panicVal, "stack_trace", trace)...)

	return &river.ErrorHandlerResult{SetCancelled: true}
}

var _ river.ErrorHandler = (*ErrorHandler)(nil)
