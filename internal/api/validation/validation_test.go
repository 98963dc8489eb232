package validation

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaintel/hub/internal/datatypes"
	"github.com/pharmaintel/hub/internal/huberrors"
)

type sampleItem struct {
	Score int `json:"score" validate:"gte=0,lte=100"`
}

type sampleRequest struct {
	Name  string              `json:"name" validate:"required,no_null_bytes"`
	Kind  datatypes.EventType `json:"kind" validate:"required,event_type"`
	Items []sampleItem        `json:"items" validate:"dive"`
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name         string
		req          sampleRequest
		wantLocation string
		wantMessage  string
	}{
		{
			name:         "missing name",
			req:          sampleRequest{Kind: datatypes.EventProgress},
			wantLocation: "name",
			wantMessage:  "name is required",
		},
		{
			name:         "null byte",
			req:          sampleRequest{Name: "a\x00b", Kind: datatypes.EventProgress},
			wantLocation: "name",
			wantMessage:  "name must not contain NULL bytes",
		},
		{
			name:         "unknown event type",
			req:          sampleRequest{Name: "x", Kind: datatypes.EventType(99)},
			wantLocation: "kind",
			wantMessage:  "kind must be one of: completion, error, progress, status_update",
		},
		{
			name:         "nested item out of range",
			req:          sampleRequest{Name: "x", Kind: datatypes.EventError, Items: []sampleItem{{Score: 10}, {Score: 101}}},
			wantLocation: "items[1].score",
			wantMessage:  "items[1].score must be less than or equal to 100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "validation failed: ")

			details := GetValidationErrorDetails(err)
			require.Len(t, details, 1)
			assert.Equal(t, tt.wantLocation, details[0].Location)
			assert.Equal(t, tt.wantMessage, details[0].Message)
		})
	}
}

func TestValidateStruct_Valid(t *testing.T) {
	req := sampleRequest{Name: "ok", Kind: datatypes.EventCompletion, Items: []sampleItem{{Score: 0}, {Score: 100}}}
	require.NoError(t, ValidateStruct(req))
}

func TestGetValidationErrorDetails_DomainError(t *testing.T) {
	details := GetValidationErrorDetails(huberrors.NewValidationError("strategy", "unknown strategy"))
	require.Len(t, details, 1)
	assert.Equal(t, "strategy", details[0].Location)
	assert.Equal(t, "unknown strategy", details[0].Message)

	assert.Empty(t, GetValidationErrorDetails(errors.New("plain")))
}

func TestDecodeJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr error
		errText string
	}{
		{name: "valid", body: `{"name":"x","kind":"progress"}`},
		{name: "empty body", body: "", wantErr: ErrEmptyBody},
		{name: "unknown field", body: `{"name":"x","extra":1}`, errText: "unknown field"},
		{name: "trailing data", body: `{"name":"x"}{"name":"y"}`, errText: "unexpected data"},
		{name: "malformed", body: `{"name":`, errText: "decode request body"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/conflicts", strings.NewReader(tt.body))

			var dst sampleRequest

			err := DecodeJSON(req, &dst)

			switch {
			case tt.wantErr != nil:
				require.ErrorIs(t, err, tt.wantErr)
			case tt.errText != "":
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errText)
			default:
				require.NoError(t, err)
				assert.Equal(t, "x", dst.Name)
				assert.Equal(t, datatypes.EventProgress, dst.Kind)
			}
		})
	}
}

type sampleFilters struct {
	Status string     `form:"status" validate:"omitempty,oneof=pending delivered"`
	Since  *time.Time `form:"since"`
	Limit  int        `form:"limit" validate:"omitempty,min=1,max=1000"`
}

func TestValidateAndDecodeQueryParams(t *testing.T) {
	t.Run("decodes time and ints", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/webhook-deliveries?status=pending&since=2026-01-02T03:04:05Z&limit=10", nil)

		var f sampleFilters
		require.NoError(t, ValidateAndDecodeQueryParams(req, &f))

		assert.Equal(t, "pending", f.Status)
		assert.Equal(t, 10, f.Limit)
		require.NotNil(t, f.Since)
		assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), f.Since.UTC())
	})

	t.Run("bad date", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/webhook-deliveries?since=yesterday", nil)

		var f sampleFilters
		require.Error(t, ValidateAndDecodeQueryParams(req, &f))
	})

	t.Run("invalid status", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/webhook-deliveries?status=lost", nil)

		var f sampleFilters
		err := ValidateAndDecodeQueryParams(req, &f)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Status must be one of: pending delivered")
	})
}

func TestRespondValidationError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondValidationError(rec, ValidateStruct(sampleRequest{Kind: datatypes.EventProgress}))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"location":"name"`)
}
