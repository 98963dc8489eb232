// Package handlers implements the HTTP handlers of the /v1 API.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/pharmaintel/hub/internal/api/response"
	"github.com/pharmaintel/hub/internal/api/validation"
	"github.com/pharmaintel/hub/internal/huberrors"
)

// parseID reads the {id} path value. It writes a 400 and returns false when it is not a UUID.
func parseID(w http.ResponseWriter, r *http.Request, resource string) (uuid.UUID, bool) {
	idStr := r.PathValue("id")
	if idStr == "" {
		response.RespondBadRequest(w, resource+" ID is required")

		return uuid.Nil, false
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		response.RespondBadRequest(w, "Invalid UUID format")

		return uuid.Nil, false
	}

	return id, true
}

// decodeAndValidate decodes the JSON body into dst and validates it.
// It writes the error response and returns false on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := validation.DecodeJSON(r, dst); err != nil {
		slog.WarnContext(r.Context(), "Invalid request body", "method", r.Method, "path", r.URL.Path, "error", err)
		response.RespondBadRequest(w, "Invalid request body")

		return false
	}

	if err := validation.ValidateStruct(dst); err != nil {
		validation.RespondValidationError(w, err)

		return false
	}

	return true
}

// respondServiceError maps service errors to problem-details responses.
func respondServiceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	switch {
	case errors.Is(err, huberrors.ErrNotFound):
		response.RespondNotFound(w, err.Error())
	case errors.Is(err, huberrors.ErrValidation):
		validation.RespondValidationError(w, err)
	case errors.Is(err, huberrors.ErrConflict):
		response.RespondConflict(w, err.Error())
	case errors.Is(err, huberrors.ErrLimitExceeded):
		response.RespondTooManyRequests(w, err.Error())
	default:
		slog.ErrorContext(r.Context(), "Failed to "+action, "method", r.Method, "path", r.URL.Path, "error", err)
		response.RespondInternalServerError(w, "An unexpected error occurred")
	}
}
