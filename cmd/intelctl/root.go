package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/spf13/cobra"

	"github.com/pharmaintel/hub/internal/config"
	"github.com/pharmaintel/hub/internal/jobs"
	"github.com/pharmaintel/hub/internal/observability"
	"github.com/pharmaintel/hub/internal/repository"
	"github.com/pharmaintel/hub/internal/service"
	"github.com/pharmaintel/hub/pkg/database"
)

// riverJobMaxAttempts matches the API server so re-enqueued jobs behave the same.
const riverJobMaxAttempts = 5

func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:           "intelctl",
		Short:         "Maintenance commands for the pharma intelligence hub",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			slog.SetDefault(observability.NewLogger(cmd.ErrOrStderr(), logLevel))
		},
	}

	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		newMigrateCmd(),
		newGenKeyCmd(),
		newAuthenticateCmd(),
		newSweepCmd(),
		newReconcileCmd(),
	)

	return root
}

// env holds the connections opened for commands that touch the database.
type env struct {
	cfg   *config.Config
	db    *pgxpool.Pool
	redis *redis.Client
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	db, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	e := &env{cfg: cfg, db: db}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			db.Close()

			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}

		e.redis = redis.NewClient(opts)
	}

	return e, nil
}

func (e *env) Close() {
	if e.redis != nil {
		if err := e.redis.Close(); err != nil {
			slog.Warn("close redis client", "error", err)
		}
	}

	e.db.Close()
}

// deliveryService builds the webhook delivery service with an insert-only River client.
func (e *env) deliveryService() (*service.WebhookDeliveryService, error) {
	var lease service.DeliveryLease
	if e.redis != nil {
		lease = service.NewRedisDeliveryLease(e.redis)
	}

	svc := service.NewWebhookDeliveryService(service.WebhookDeliveryServiceParams{
		Deliveries:  repository.NewWebhookDeliveriesRepository(e.db),
		DeadLetters: repository.NewDeadLettersRepository(e.db),
		Audit:       repository.NewAuditRepository(e.db),
		Endpoints:   repository.NewWebhookEndpointsRepository(e.db),
		Sender:      service.NewWebhookSenderImpl(),
		Lease:       lease,
		Policy:      e.cfg.DeliveryPolicy(),
	})

	client, err := river.NewClient(riverpgxv5.New(e.db), &river.Config{})
	if err != nil {
		return nil, fmt.Errorf("create River client: %w", err)
	}

	svc.SetInserter(jobs.NewRiverJobInserter(client, riverJobMaxAttempts))

	return svc, nil
}

func withEnv(fn func(cmd *cobra.Command, args []string, e *env) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		return fn(cmd, args, e)
	}
}
