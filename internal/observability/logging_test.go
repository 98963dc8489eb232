package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestTraceContextHandler_AddsContextIDs(t *testing.T) {
	var buf bytes.Buffer

	logger := NewLogger(&buf, "info")

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = WithWebhookID(ctx, "wh-1")

	logger.InfoContext(ctx, "delivered", "status_code", 200)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "req-1", record["request_id"])
	assert.Equal(t, "wh-1", record["webhook_id"])
	assert.NotContains(t, record, "trace_id")
}

func TestNewLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer

	logger := NewLogger(&buf, "warn")
	logger.Info("ignored")

	assert.Zero(t, buf.Len())
}
