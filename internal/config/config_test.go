package config

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaintel/hub/internal/retry"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("API_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test-key", cfg.APIKey)
	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, 5, cfg.WebhookWorkers)
	assert.Equal(t, time.Second, cfg.WebhookRetryInitial)
	assert.InDelta(t, 2.0, cfg.WebhookRetryMultiplier, 0)
	assert.Equal(t, 300*time.Second, cfg.WebhookRetryMaxDelay)
	assert.Equal(t, 10, cfg.WebhookMaxAttempts)
	assert.Equal(t, 5*time.Minute, cfg.DeadLetterSweepInterval)
	assert.Equal(t, 5*time.Minute, cfg.ReconcileInterval)
	assert.False(t, cfg.WebhookRetryJitter)
	assert.Equal(t, []string{"openai", "gemini"}, cfg.LLMProviderOrder)
	assert.Empty(t, cfg.RedisURL)
	assert.Equal(t, "prometheus", cfg.MetricsExporter)
	assert.Equal(t, "none", cfg.TracesExporter)
	assert.True(t, cfg.MigrateOnStart)
}

func TestLoad_RequiresAPIKey(t *testing.T) {
	t.Setenv("API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_KEY")
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("API_KEY", "test-key")
	t.Setenv("WEBHOOK_WORKERS", "12")
	t.Setenv("WEBHOOK_RETRY_INITIAL", "250ms")
	t.Setenv("WEBHOOK_RETRY_MULTIPLIER", "1.5")
	t.Setenv("SOURCE_DOMAIN_WHITELIST", " FDA.gov , ema.europa.eu,,")
	t.Setenv("LLM_PROVIDER_ORDER", "gemini")
	t.Setenv("MIGRATE_ON_START", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.WebhookWorkers)
	assert.Equal(t, 250*time.Millisecond, cfg.WebhookRetryInitial)
	assert.InDelta(t, 1.5, cfg.WebhookRetryMultiplier, 1e-9)
	assert.Equal(t, []string{"fda.gov", "ema.europa.eu"}, cfg.SourceDomainWhitelist)
	assert.Equal(t, []string{"gemini"}, cfg.LLMProviderOrder)
	assert.False(t, cfg.MigrateOnStart)
}

func TestLoad_MalformedValuesFallBackToDefaults(t *testing.T) {
	t.Setenv("API_KEY", "test-key")
	t.Setenv("WEBHOOK_MAX_ATTEMPTS", "ten")
	t.Setenv("WEBHOOK_ENDPOINT_CACHE_TTL", "soon")
	t.Setenv("MIGRATE_ON_START", "maybe")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.WebhookMaxAttempts)
	assert.Equal(t, time.Minute, cfg.WebhookEndpointCacheTTL)
	assert.True(t, cfg.MigrateOnStart)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{name: "zero workers", key: "WEBHOOK_WORKERS", value: "0", wantErr: "WEBHOOK_WORKERS"},
		{name: "negative attempts", key: "WEBHOOK_MAX_ATTEMPTS", value: "-1", wantErr: "WEBHOOK_MAX_ATTEMPTS"},
		{name: "initial above cap", key: "WEBHOOK_RETRY_INITIAL", value: "10m", wantErr: "WEBHOOK_RETRY_INITIAL"},
		{name: "shrinking multiplier", key: "WEBHOOK_RETRY_MULTIPLIER", value: "0.5", wantErr: "WEBHOOK_RETRY_MULTIPLIER"},
		{name: "empty cache", key: "WEBHOOK_ENDPOINT_CACHE_SIZE", value: "0", wantErr: "WEBHOOK_ENDPOINT_CACHE_SIZE"},
		{name: "zero sweep interval", key: "DEAD_LETTER_SWEEP_INTERVAL", value: "0s", wantErr: "DEAD_LETTER_SWEEP_INTERVAL"},
		{name: "zero reconcile interval", key: "RECONCILE_INTERVAL", value: "0s", wantErr: "RECONCILE_INTERVAL"},
		{name: "zero rate", key: "LLM_RATE_LIMIT_RPS", value: "0", wantErr: "LLM_RATE_LIMIT_RPS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("API_KEY", "test-key")
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// backoffSchedule runs the policy against an always-failing operation and returns every wait.
func backoffSchedule(t *testing.T, policy retry.Policy) []time.Duration {
	t.Helper()

	var slept []time.Duration

	_, err := retry.Do(context.Background(), policy,
		func(context.Context, int) error { return errors.New("HTTP 503") },
		retry.WithSleeper(func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)

			return nil
		}),
	)
	require.ErrorIs(t, err, retry.ErrExhausted)

	return slept
}

func TestDeliveryPolicy_DefaultSchedule(t *testing.T) {
	t.Setenv("API_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)

	policy := cfg.DeliveryPolicy()
	assert.False(t, policy.Jitter)
	assert.Equal(t, 10, policy.MaxAttempts)

	s := time.Second
	assert.Equal(t,
		[]time.Duration{1 * s, 2 * s, 4 * s, 8 * s, 16 * s, 32 * s, 64 * s, 128 * s, 256 * s},
		backoffSchedule(t, policy))
}

func TestDeliveryPolicy_CapsAtMaxDelay(t *testing.T) {
	t.Setenv("API_KEY", "test-key")
	t.Setenv("WEBHOOK_MAX_ATTEMPTS", "12")

	cfg, err := Load()
	require.NoError(t, err)

	s := time.Second
	assert.Equal(t,
		[]time.Duration{1 * s, 2 * s, 4 * s, 8 * s, 16 * s, 32 * s, 64 * s, 128 * s, 256 * s, 300 * s, 300 * s},
		backoffSchedule(t, cfg.DeliveryPolicy()))
}

func TestDeliveryPolicy_JitterIsOptIn(t *testing.T) {
	t.Setenv("API_KEY", "test-key")
	t.Setenv("WEBHOOK_RETRY_JITTER", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.DeliveryPolicy().Jitter)
}
