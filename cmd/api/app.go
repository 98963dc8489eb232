package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivertype"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/pharmaintel/hub/internal/api/handlers"
	"github.com/pharmaintel/hub/internal/api/middleware"
	"github.com/pharmaintel/hub/internal/config"
	"github.com/pharmaintel/hub/internal/googleai"
	"github.com/pharmaintel/hub/internal/jobs"
	"github.com/pharmaintel/hub/internal/merge"
	"github.com/pharmaintel/hub/internal/models"
	"github.com/pharmaintel/hub/internal/observability"
	"github.com/pharmaintel/hub/internal/openai"
	"github.com/pharmaintel/hub/internal/repository"
	"github.com/pharmaintel/hub/internal/service"
	"github.com/pharmaintel/hub/internal/sourceauth"
	"github.com/pharmaintel/hub/internal/workers"
	"github.com/pharmaintel/hub/pkg/cache"
)

const (
	riverQueueDepthInterval = 15 * time.Second
	// riverJobMaxAttempts bounds River-level retries of a delivery job. The webhook retry policy runs
	// inside one job; River only retries when the outcome could not be persisted or the lease was held.
	riverJobMaxAttempts = 5
	maxRequestBodyBytes = 1 << 20
)

// App holds all server dependencies and coordinates startup and shutdown.
type App struct {
	cfg            *config.Config
	db             *pgxpool.Pool
	redis          *redis.Client
	server         *http.Server
	river          *river.Client[pgx.Tx]
	deliveries     *service.WebhookDeliveryService
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	metrics        observability.IntelMetrics
}

// newRedisClient connects to REDIS_URL. It returns nil when Redis is not configured.
func newRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		slog.Warn("REDIS_URL not set, delivery leases are process-local")

		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

// newProviders builds the LLM providers named in LLM_PROVIDER_ORDER that have an API key.
func newProviders(ctx context.Context, cfg *config.Config) ([]service.CompletionProvider, error) {
	var providers []service.CompletionProvider

	for _, name := range cfg.LLMProviderOrder {
		switch name {
		case openai.ProviderName:
			if cfg.OpenAIAPIKey == "" {
				continue
			}

			providers = append(providers, openai.NewClient(cfg.OpenAIAPIKey, openai.WithModel(cfg.OpenAIModel)))
		case googleai.ProviderName:
			if cfg.GeminiAPIKey == "" {
				continue
			}

			client, err := googleai.NewClient(ctx, cfg.GeminiAPIKey, googleai.WithModel(cfg.GeminiModel))
			if err != nil {
				return nil, fmt.Errorf("create gemini client: %w", err)
			}

			providers = append(providers, client)
		default:
			slog.Warn("ignoring unknown LLM provider", "provider", name)
		}
	}

	if len(providers) == 0 {
		slog.Warn("no LLM provider configured, analyses will be rejected")
	}

	return providers, nil
}

func loadMergeConfig(cfg *config.Config) (*merge.Config, error) {
	if cfg.MergeConfigPath == "" {
		return merge.DefaultConfig()
	}

	return merge.LoadConfig(cfg.MergeConfigPath)
}

// NewApp builds and wires all components. It does not start the HTTP server or River;
// call Run to start and block until shutdown or failure.
func NewApp(ctx context.Context, cfg *config.Config, db *pgxpool.Pool) (_ *App, err error) {
	app := &App{cfg: cfg, db: db}

	// Release whatever was created when a later step fails.
	defer func() {
		if err != nil {
			app.closeResources(context.Background())
		}
	}()

	var metricsHandler http.Handler

	if cfg.MetricsExporter == "prometheus" {
		app.meterProvider, metricsHandler, app.metrics, err = observability.NewMeterProvider(ctx,
			observability.MeterProviderConfig{ServiceName: cfg.ServiceName})
		if err != nil {
			return nil, err
		}

		otel.SetMeterProvider(app.meterProvider)
	} else {
		slog.Warn("metrics not enabled", "exporter", cfg.MetricsExporter)
	}

	app.tracerProvider, err = observability.NewTracerProvider(ctx, observability.TracerProviderConfig{
		ServiceName: cfg.ServiceName,
		Exporter:    cfg.TracesExporter,
	})
	if err != nil {
		return nil, err
	}

	if app.tracerProvider != nil {
		otel.SetTracerProvider(app.tracerProvider)
	}

	app.redis, err = newRedisClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	endpointCache, err := cache.NewLoaderCache[uuid.UUID, *models.WebhookEndpoint](
		cfg.WebhookEndpointCacheSize, cfg.WebhookEndpointCacheTTL, uuid.UUID.String,
	)
	if err != nil {
		return nil, fmt.Errorf("create endpoint cache: %w", err)
	}

	endpointsRepo := service.NewCachingEndpointsRepository(
		repository.NewWebhookEndpointsRepository(db), endpointCache, app.metrics,
	)

	var lease service.DeliveryLease
	if app.redis != nil {
		lease = service.NewRedisDeliveryLease(app.redis)
	}

	policy := cfg.DeliveryPolicy()
	app.deliveries = service.NewWebhookDeliveryService(service.WebhookDeliveryServiceParams{
		Deliveries:  repository.NewWebhookDeliveriesRepository(db),
		DeadLetters: repository.NewDeadLettersRepository(db),
		Audit:       repository.NewAuditRepository(db),
		Endpoints:   endpointsRepo,
		Sender:      service.NewWebhookSenderImpl(),
		Lease:       lease,
		Policy:      policy,
		Metrics:     app.metrics,
	})

	riverWorkers := river.NewWorkers()
	river.AddWorker(riverWorkers, workers.NewWebhookDeliveryWorker(app.deliveries, policy))
	river.AddWorker(riverWorkers, workers.NewDeadLetterSweepWorker(app.deliveries))
	river.AddWorker(riverWorkers, workers.NewReconcileWorker(app.deliveries))

	app.river, err = river.NewClient(riverpgxv5.New(db), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault:    {MaxWorkers: 1},
			jobs.WebhookQueueName: {MaxWorkers: cfg.WebhookWorkers},
		},
		Workers:      riverWorkers,
		ErrorHandler: &jobs.ErrorHandler{},
		PeriodicJobs: []*river.PeriodicJob{
			workers.DeadLetterSweepPeriodicJob(cfg.DeadLetterSweepInterval),
			workers.ReconcilePeriodicJob(cfg.ReconcileInterval),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create River client: %w", err)
	}

	app.deliveries.SetInserter(jobs.NewRiverJobInserter(app.river, riverJobMaxAttempts))

	mergeCfg, err := loadMergeConfig(cfg)
	if err != nil {
		return nil, err
	}

	providers, err := newProviders(ctx, cfg)
	if err != nil {
		return nil, err
	}

	authenticator := sourceauth.New(
		sourceauth.WithWhitelist(cfg.SourceDomainWhitelist...),
		sourceauth.WithBlacklist(cfg.SourceDomainBlacklist...),
	)

	intelligence := handlers.NewIntelligenceHandler(
		service.NewSourcesService(repository.NewSourceAuthenticationsRepository(db), authenticator),
		service.NewMergeService(repository.NewMergeRecordsRepository(db), merge.New(mergeCfg)),
		service.NewAnalysisService(
			repository.NewAnalysesRepository(db), app.deliveries, app.metrics, cfg.LLMRateLimitRPS, providers...,
		),
	)

	checks := map[string]handlers.Pinger{"postgres": db}
	if app.redis != nil {
		checks["redis"] = handlers.PingFunc(func(ctx context.Context) error { return app.redis.Ping(ctx).Err() })
	}

	app.server = newHTTPServer(cfg, routes{
		health:       handlers.NewHealthHandler(checks),
		endpoints:    handlers.NewWebhookEndpointsHandler(service.NewWebhookEndpointsService(endpointsRepo)),
		deliveries:   handlers.NewWebhookDeliveriesHandler(app.deliveries),
		conflicts:    handlers.NewConflictsHandler(service.NewConflictsService(repository.NewConflictsRepository(db))),
		intelligence: intelligence,
		metrics:      metricsHandler,
	}, app.metrics, app.meterProvider, app.tracerProvider)

	return app, nil
}

type routes struct {
	health       *handlers.HealthHandler
	endpoints    *handlers.WebhookEndpointsHandler
	deliveries   *handlers.WebhookDeliveriesHandler
	conflicts    *handlers.ConflictsHandler
	intelligence *handlers.IntelligenceHandler
	metrics      http.Handler
}

// newHTTPServer builds the HTTP server and muxes (no auth on /health and /metrics, API key on /v1/).
// Handler chain: RequestID -> Metrics -> otelhttp(Logging(mux)) so access logs get trace_id/span_id from context.
func newHTTPServer(
	cfg *config.Config,
	rt routes,
	metrics observability.IntelMetrics,
	meterProvider *sdkmetric.MeterProvider,
	tracerProvider *sdktrace.TracerProvider,
) *http.Server {
	public := http.NewServeMux()
	public.HandleFunc("GET /health", rt.health.Check)

	if rt.metrics != nil {
		public.Handle("GET /metrics", rt.metrics)
	}

	protected := http.NewServeMux()
	protected.HandleFunc("POST /v1/webhook-endpoints", rt.endpoints.Create)
	protected.HandleFunc("GET /v1/webhook-endpoints", rt.endpoints.List)
	protected.HandleFunc("GET /v1/webhook-endpoints/{id}", rt.endpoints.Get)
	protected.HandleFunc("PATCH /v1/webhook-endpoints/{id}", rt.endpoints.Update)
	protected.HandleFunc("DELETE /v1/webhook-endpoints/{id}", rt.endpoints.Delete)

	protected.HandleFunc("POST /v1/webhook-deliveries", rt.deliveries.Schedule)
	protected.HandleFunc("GET /v1/webhook-deliveries", rt.deliveries.List)
	protected.HandleFunc("GET /v1/webhook-deliveries/{id}", rt.deliveries.Get)
	protected.HandleFunc("POST /v1/webhook-deliveries/{id}/deliver", rt.deliveries.Deliver)
	protected.HandleFunc("GET /v1/dead-letters", rt.deliveries.ListDeadLetters)
	protected.HandleFunc("POST /v1/dead-letters/{id}/retry", rt.deliveries.RetryDeadLetter)

	protected.HandleFunc("POST /v1/conflicts", rt.conflicts.Detect)
	protected.HandleFunc("GET /v1/conflicts", rt.conflicts.List)
	protected.HandleFunc("GET /v1/conflicts/{id}", rt.conflicts.Get)
	protected.HandleFunc("POST /v1/conflicts/{id}/resolve", rt.conflicts.Resolve)

	protected.HandleFunc("POST /v1/sources/authenticate", rt.intelligence.AuthenticateSource)
	protected.HandleFunc("POST /v1/merges", rt.intelligence.Merge)
	protected.HandleFunc("POST /v1/merges/enrich", rt.intelligence.Enrich)
	protected.HandleFunc("GET /v1/merges/{id}", rt.intelligence.GetMerge)
	protected.HandleFunc("POST /v1/analyses", rt.intelligence.CreateAnalysis)
	protected.HandleFunc("GET /v1/analyses/{id}", rt.intelligence.GetAnalysis)

	protectedWithAuth := middleware.MaxBody(maxRequestBodyBytes)(middleware.Auth(cfg.APIKey)(protected))
	mux := http.NewServeMux()
	mux.Handle("/v1/", protectedWithAuth)
	mux.Handle("/", public)

	otelOpts := []otelhttp.Option{
		// Skip tracing and HTTP metrics for health checks and scrapes.
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && r.URL.Path != "/metrics"
		}),
	}
	if meterProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithMeterProvider(meterProvider))
	}

	if tracerProvider != nil {
		otelOpts = append(otelOpts, otelhttp.WithTracerProvider(tracerProvider))
	}

	// Logging runs inside otelhttp so r.Context() has the span when we log.
	handler := otelhttp.NewHandler(middleware.Logging(mux), "pharma-intel-hub", otelOpts...)

	var recorder middleware.RequestRecorder
	if metrics != nil {
		recorder = metrics
	}

	handler = middleware.Metrics(recorder)(handler)
	handler = middleware.RequestID(handler)

	const (
		readTimeout  = 15 * time.Second
		writeTimeout = 10 * time.Minute // POST .../deliver runs the full retry loop
		idleTimeout  = 60 * time.Second
	)

	return &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}

// Run starts River, re-enqueues unfinished deliveries and starts the HTTP server, then blocks until ctx
// is cancelled (e.g. signal) or a component fails. Caller should then call Shutdown.
func (a *App) Run(ctx context.Context) error {
	runErr := make(chan error, 1)

	riverCtx, cancelRiver := context.WithCancel(ctx)
	defer cancelRiver()

	if a.metrics != nil {
		go runRiverQueueDepthPoller(riverCtx, a.db, a.metrics)
	}

	if err := a.river.Start(riverCtx); err != nil {
		return fmt.Errorf("river: %w", err)
	}

	if _, err := a.deliveries.ReconcilePending(ctx); err != nil {
		slog.ErrorContext(ctx, "failed to re-enqueue pending deliveries", "error", err)
	}

	go func() {
		slog.Info("Starting server", "port", a.cfg.Port)

		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case runErr <- fmt.Errorf("server: %w", err):
			default:
			}
		}
	}()

	select {
	case err := <-runErr:
		cancelRiver()

		return err
	case <-ctx.Done():
		return nil
	}
}

// runRiverQueueDepthPoller periodically updates the webhook queue depth gauge per job state.
func runRiverQueueDepthPoller(ctx context.Context, db *pgxpool.Pool, metrics observability.IntelMetrics) {
	ticker := time.NewTicker(riverQueueDepthInterval)
	defer ticker.Stop()

	states := []string{
		string(rivertype.JobStateAvailable),
		string(rivertype.JobStateRetryable),
		string(rivertype.JobStateScheduled),
		string(rivertype.JobStateRunning),
	}

	update := func() {
		rows, err := db.Query(ctx,
			`SELECT state::text, COUNT(*) FROM river_job WHERE queue = $1 AND state = ANY($2::river_job_state[]) GROUP BY state`,
			jobs.WebhookQueueName, states,
		)
		if err != nil {
			slog.WarnContext(ctx, "river queue depth poll failed", "error", err)

			return
		}
		defer rows.Close()

		counts := make(map[string]int64, len(states))

		for rows.Next() {
			var (
				state string
				n     int64
			)

			if err := rows.Scan(&state, &n); err != nil {
				slog.WarnContext(ctx, "river queue depth scan failed", "error", err)

				return
			}

			counts[state] = n
		}

		for _, s := range states {
			metrics.RecordQueueDepth(ctx, s, counts[s])
		}
	}

	update()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}

// closeResources shuts down observability and Redis. Errors are logged.
func (a *App) closeResources(ctx context.Context) {
	if a.tracerProvider != nil {
		if err := observability.ShutdownTracerProvider(ctx, a.tracerProvider); err != nil {
			slog.Error("shutdown tracer provider", "error", err)
		}
	}

	if a.meterProvider != nil {
		if err := a.meterProvider.Shutdown(ctx); err != nil {
			slog.Error("shutdown meter provider", "error", err)
		}
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Error("close redis client", "error", err)
		}
	}
}

// Shutdown stops the HTTP server, then River, then observability and Redis. The pool is closed by the caller.
func (a *App) Shutdown(ctx context.Context) error {
	defer a.closeResources(ctx)

	if err := a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		if stopErr := a.river.Stop(ctx); stopErr != nil {
			slog.Error("river stop during server shutdown", "error", stopErr)
		}

		return fmt.Errorf("server shutdown: %w", err)
	}

	if err := a.river.Stop(ctx); err != nil {
		return fmt.Errorf("river stop: %w", err)
	}

	return nil
}
