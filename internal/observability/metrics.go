// Package observability provides OpenTelemetry metrics (Prometheus exporter), tracing and log enrichment.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	prometheusexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

const (
	meterScope         = "github.com/pharmaintel/hub/internal/observability"
	defaultServiceName = "pharma-intel-hub"
	cardinalityLimit   = 2000
)

// latencyHistogramBoundaries are Prometheus-style buckets (seconds) for request and webhook duration histograms.
var latencyHistogramBoundaries = []float64{0.005, 0.025, 0.1, 0.5, 1, 2.5, 5, 30, 120}

// IntelMetrics is the single metrics interface for the service (HTTP, webhooks, caches, analyses).
// Every caller accepts a nil IntelMetrics when metrics are disabled.
type IntelMetrics interface {
	RecordRequest(ctx context.Context, method, route, statusClass string, duration time.Duration)
	RecordWebhookScheduled(ctx context.Context, eventType string)
	RecordWebhookAttempt(ctx context.Context, outcome string)
	RecordWebhookDelivery(ctx context.Context, eventType, status string, duration time.Duration)
	RecordDeadLettered(ctx context.Context, reason string)
	RecordCacheLookup(ctx context.Context, cacheName string, hit bool)
	RecordAnalysis(ctx context.Context, provider, outcome string)
	RecordQueueDepth(ctx context.Context, state string, depth int64)
}

// MeterProviderShutdown is the subset of the SDK MeterProvider needed for shutdown.
type MeterProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// MeterProviderConfig holds configuration for creating the MeterProvider and metrics.
type MeterProviderConfig struct {
	// ServiceName is used in the resource (default: pharma-intel-hub).
	ServiceName string
}

// NewMeterProvider creates a MeterProvider with Prometheus exporter and returns the provider,
// an HTTP handler for /metrics, and IntelMetrics that use the provider's Meter.
// Caller must call provider.Shutdown on exit.
func NewMeterProvider(_ context.Context, cfg MeterProviderConfig) (
	provider *sdkmetric.MeterProvider, metricsHandler http.Handler, metrics IntelMetrics, err error,
) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	)

	reg := prometheus.NewRegistry()

	exporter, err := prometheusexporter.New(
		prometheusexporter.WithRegisterer(reg),
	)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	histogram := sdkmetric.Stream{
		Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: latencyHistogramBoundaries},
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
		sdkmetric.WithCardinalityLimit(cardinalityLimit),
		sdkmetric.WithView(
			sdkmetric.NewView(sdkmetric.Instrument{Name: "http.server.duration"}, histogram),
			sdkmetric.NewView(sdkmetric.Instrument{Name: "webhook_delivery_duration_seconds"}, histogram),
		),
	)

	m, err := newMetricsFromMeter(mp.Meter(meterScope))
	if err != nil {
		_ = mp.Shutdown(context.Background())

		return nil, nil, nil, fmt.Errorf("create metrics instruments: %w", err)
	}

	return mp, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), m, nil
}

func newMetricsFromMeter(meter metric.Meter) (*intelMetricsImpl, error) {
	var (
		m   intelMetricsImpl
		err error
	)

	if m.requestCount, err = meter.Int64Counter("http.server.request_count",
		metric.WithDescription("Total HTTP requests")); err != nil {
		return nil, fmt.Errorf("http.server.request_count: %w", err)
	}

	if m.requestDuration, err = meter.Float64Histogram("http.server.duration",
		metric.WithDescription("HTTP request duration in seconds"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("http.server.duration: %w", err)
	}

	if m.webhooksScheduled, err = meter.Int64Counter("webhook_scheduled_total",
		metric.WithDescription("Webhook deliveries scheduled per event type")); err != nil {
		return nil, fmt.Errorf("webhook_scheduled_total: %w", err)
	}

	if m.webhookAttempts, err = meter.Int64Counter("webhook_attempts_total",
		metric.WithDescription("Webhook HTTP attempts by outcome")); err != nil {
		return nil, fmt.Errorf("webhook_attempts_total: %w", err)
	}

	if m.webhookDeliveries, err = meter.Int64Counter("webhook_deliveries_total",
		metric.WithDescription("Webhook deliveries by terminal status")); err != nil {
		return nil, fmt.Errorf("webhook_deliveries_total: %w", err)
	}

	if m.webhookDeliveryDur, err = meter.Float64Histogram("webhook_delivery_duration_seconds",
		metric.WithDescription("Webhook delivery duration in seconds, retries included"), metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("webhook_delivery_duration_seconds: %w", err)
	}

	if m.deadLettered, err = meter.Int64Counter("webhook_dead_lettered_total",
		metric.WithDescription("Deliveries moved to the dead-letter queue by reason")); err != nil {
		return nil, fmt.Errorf("webhook_dead_lettered_total: %w", err)
	}

	if m.cacheLookups, err = meter.Int64Counter("cache_lookups_total",
		metric.WithDescription("Cache lookups by cache and result (hit, miss)")); err != nil {
		return nil, fmt.Errorf("cache_lookups_total: %w", err)
	}

	if m.analyses, err = meter.Int64Counter("analysis_provider_calls_total",
		metric.WithDescription("LLM provider calls by provider and outcome")); err != nil {
		return nil, fmt.Errorf("analysis_provider_calls_total: %w", err)
	}

	if m.queueDepth, err = meter.Int64Gauge("river_queue_depth",
		metric.WithDescription("River jobs per state")); err != nil {
		return nil, fmt.Errorf("river_queue_depth: %w", err)
	}

	return &m, nil
}

type intelMetricsImpl struct {
	requestCount       metric.Int64Counter
	requestDuration    metric.Float64Histogram
	webhooksScheduled  metric.Int64Counter
	webhookAttempts    metric.Int64Counter
	webhookDeliveries  metric.Int64Counter
	webhookDeliveryDur metric.Float64Histogram
	deadLettered       metric.Int64Counter
	cacheLookups       metric.Int64Counter
	analyses           metric.Int64Counter
	queueDepth         metric.Int64Gauge
}

func (m *intelMetricsImpl) RecordRequest(ctx context.Context, method, route, statusClass string, duration time.Duration) {
	attrs := attribute.NewSet(
		attribute.String("method", method),
		attribute.String("route", route),
		attribute.String("status_class", statusClass),
	)
	m.requestCount.Add(ctx, 1, metric.WithAttributeSet(attrs))

	durAttrs := attribute.NewSet(
		attribute.String("method", method),
		attribute.String("route", route),
	)
	m.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributeSet(durAttrs))
}

func (m *intelMetricsImpl) RecordWebhookScheduled(ctx context.Context, eventType string) {
	m.webhooksScheduled.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_type", normalizeEventType(eventType))))
}

func (m *intelMetricsImpl) RecordWebhookAttempt(ctx context.Context, outcome string) {
	m.webhookAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", normalizeOutcome(outcome))))
}

func (m *intelMetricsImpl) RecordWebhookDelivery(ctx context.Context, eventType, status string, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("event_type", normalizeEventType(eventType)),
		attribute.String("status", normalizeDeliveryStatus(status)),
	)
	m.webhookDeliveries.Add(ctx, 1, attrs)
	m.webhookDeliveryDur.Record(ctx, duration.Seconds(), attrs)
}

func (m *intelMetricsImpl) RecordDeadLettered(ctx context.Context, reason string) {
	m.deadLettered.Add(ctx, 1, metric.WithAttributes(
		attribute.String("reason", normalizeDeadLetterReason(reason))))
}

func (m *intelMetricsImpl) RecordCacheLookup(ctx context.Context, cacheName string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}

	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache", cacheName),
		attribute.String("result", result),
	))
}

func (m *intelMetricsImpl) RecordAnalysis(ctx context.Context, provider, outcome string) {
	m.analyses.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", normalizeProvider(provider)),
		attribute.String("outcome", outcome),
	))
}

func (m *intelMetricsImpl) RecordQueueDepth(ctx context.Context, state string, depth int64) {
	m.queueDepth.Record(ctx, depth, metric.WithAttributes(attribute.String("state", state)))
}

// normalizeEventType maps event type to a bounded set for cardinality control.
func normalizeEventType(s string) string {
	switch s {
	case "status_update", "progress", "completion", "error":
		return s
	default:
		return "unknown"
	}
}

// normalizeOutcome maps attempt outcome to a bounded set.
func normalizeOutcome(s string) string {
	switch s {
	case "success", "retryable_failure", "terminal_failure":
		return s
	default:
		return "unknown"
	}
}

func normalizeDeliveryStatus(s string) string {
	switch s {
	case "delivered", "failed", "dead_letter":
		return s
	default:
		return "unknown"
	}
}

func normalizeDeadLetterReason(s string) string {
	switch s {
	case "exhausted", "endpoint_inactive":
		return s
	default:
		return "unknown"
	}
}

func normalizeProvider(s string) string {
	switch s {
	case "openai", "gemini":
		return s
	default:
		return "unknown"
	}
}
