//go:build integration

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/pharmaintel/hub/internal/datatypes"
	"github.com/pharmaintel/hub/internal/huberrors"
	"github.com/pharmaintel/hub/internal/models"
	"github.com/pharmaintel/hub/pkg/database"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(runWithPostgres(m))
}

func runWithPostgres(m *testing.M) int {
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("hub"),
		postgres.WithUsername("hub"),
		postgres.WithPassword("hub"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		panic("start postgres container: " + err.Error())
	}

	defer func() { _ = testcontainers.TerminateContainer(ctr) }()

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		panic("postgres connection string: " + err.Error())
	}

	testPool, err = database.NewPostgresPool(ctx, connStr)
	if err != nil {
		panic("connect to postgres: " + err.Error())
	}
	defer testPool.Close()

	if _, err := database.NewMigrator(testPool).Up(ctx); err != nil {
		panic("migrate: " + err.Error())
	}

	return m.Run()
}

func createEndpoint(t *testing.T, ctx context.Context) *models.WebhookEndpoint {
	t.Helper()

	e, err := NewWebhookEndpointsRepository(testPool).Create(ctx, &models.WebhookEndpoint{
		ID:             uuid.Must(uuid.NewV7()),
		Name:           "regulatory feed",
		URL:            "https://example.org/hook",
		Method:         models.DefaultEndpointMethod,
		Auth:           models.EndpointAuth{Type: models.AuthBearer, Token: "tok"},
		SigningSecret:  "whsec_dGVzdA==",
		TimeoutSeconds: 10,
		Active:         true,
	})
	require.NoError(t, err)

	return e
}

func TestWebhookEndpointsRepository_Lifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewWebhookEndpointsRepository(testPool)

	created := createEndpoint(t, ctx)
	assert.Equal(t, models.AuthBearer, created.Auth.Type)
	assert.Equal(t, map[string]string{}, created.Headers)

	got, err := repo.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.URL, got.URL)

	newURL := "https://example.org/hook-v2"
	updated, err := repo.Update(ctx, created.ID, &models.UpdateWebhookEndpointRequest{URL: &newURL, Active: ptr(false)})
	require.NoError(t, err)
	assert.Equal(t, newURL, updated.URL)
	assert.False(t, updated.Active)

	inactive, err := repo.List(ctx, &models.ListWebhookEndpointsFilters{Active: ptr(false)})
	require.NoError(t, err)
	assert.NotEmpty(t, inactive)

	require.NoError(t, repo.Delete(ctx, created.ID))

	_, err = repo.GetByID(ctx, created.ID)
	assert.True(t, errors.Is(err, huberrors.ErrNotFound))
}

func TestWebhookDeliveriesRepository_DeadLetterFlow(t *testing.T) {
	ctx := context.Background()
	endpoint := createEndpoint(t, ctx)
	deliveries := NewWebhookDeliveriesRepository(testPool)
	deadLetters := NewDeadLettersRepository(testPool)

	payload, err := json.Marshal(models.WebhookPayload{RequestID: "req-1", Status: "completion"})
	require.NoError(t, err)

	d, err := deliveries.Create(ctx, &models.WebhookDelivery{
		ID:          uuid.Must(uuid.NewV7()),
		RequestID:   "req-1",
		EndpointID:  endpoint.ID,
		EventType:   datatypes.EventCompletion,
		Payload:     payload,
		Status:      datatypes.DeliveryPending,
		MaxAttempts: 3,
		ScheduledAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, datatypes.EventCompletion, d.EventType)

	pending, err := deliveries.ListByStatus(ctx, datatypes.NonTerminalStatuses(), uuid.Nil, 100)
	require.NoError(t, err)
	assert.Contains(t, deliveryIDs(pending), d.ID)

	lastErr := "HTTP 503"
	code := 503
	require.NoError(t, deliveries.UpdateAttempt(ctx, d.ID, models.DeliveryAttemptUpdate{
		Status: datatypes.DeliveryRetrying, Attempts: 1, LastStatusCode: &code, LastError: &lastErr,
	}))

	next := time.Now().UTC().Add(-time.Minute)
	entry, err := deliveries.MoveToDeadLetter(ctx,
		models.DeliveryAttemptUpdate{Attempts: 3, LastStatusCode: &code, LastError: &lastErr},
		&models.DeadLetterEntry{
			ID:             uuid.Must(uuid.NewV7()),
			WebhookID:      d.ID,
			EndpointID:     endpoint.ID,
			RequestID:      d.RequestID,
			Payload:        payload,
			FailureReason:  lastErr,
			LastStatusCode: &code,
			AttemptsMade:   3,
			NextSweepAt:    &next,
		})
	require.NoError(t, err)

	_, err = deliveries.MoveToDeadLetter(ctx, models.DeliveryAttemptUpdate{Attempts: 3},
		&models.DeadLetterEntry{ID: uuid.Must(uuid.NewV7()), WebhookID: d.ID, EndpointID: endpoint.ID, Payload: payload})
	assert.True(t, errors.Is(err, huberrors.ErrConflict))

	due, err := deadLetters.ListDue(ctx, time.Now().UTC(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, due)

	at := time.Now().UTC()
	require.NoError(t, deliveries.ResolveDeadLetter(ctx, entry.ID, d.ID, 4, 200, at))

	got, err := deliveries.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, datatypes.DeliveryDelivered, got.Status)
	require.NotNil(t, got.DeliveredAt)

	resolved, err := deadLetters.GetByID(ctx, entry.ID)
	require.NoError(t, err)
	assert.NotNil(t, resolved.ResolvedAt)
	assert.Nil(t, resolved.NextSweepAt)
}

func deadLetterFor(
	t *testing.T, ctx context.Context, endpointID uuid.UUID, nextSweepAt time.Time,
) *models.DeadLetterEntry {
	t.Helper()

	deliveries := NewWebhookDeliveriesRepository(testPool)
	payload := json.RawMessage(`{"requestId":"req-dl","status":"error"}`)

	d, err := deliveries.Create(ctx, &models.WebhookDelivery{
		ID:          uuid.Must(uuid.NewV7()),
		RequestID:   "req-dl",
		EndpointID:  endpointID,
		EventType:   datatypes.EventError,
		Payload:     payload,
		Status:      datatypes.DeliveryPending,
		MaxAttempts: 1,
		ScheduledAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	entry, err := deliveries.MoveToDeadLetter(ctx, models.DeliveryAttemptUpdate{Attempts: 1},
		&models.DeadLetterEntry{
			ID:            uuid.Must(uuid.NewV7()),
			WebhookID:     d.ID,
			EndpointID:    endpointID,
			RequestID:     d.RequestID,
			Payload:       payload,
			FailureReason: "HTTP 503",
			AttemptsMade:  1,
			NextSweepAt:   &nextSweepAt,
		})
	require.NoError(t, err)

	return entry
}

func TestDeadLettersRepository_ListDueSkipsInactiveEndpoints(t *testing.T) {
	ctx := context.Background()
	endpoints := NewWebhookEndpointsRepository(testPool)
	deadLetters := NewDeadLettersRepository(testPool)

	inactive := createEndpoint(t, ctx)
	_, err := endpoints.Update(ctx, inactive.ID, &models.UpdateWebhookEndpointRequest{Active: ptr(false)})
	require.NoError(t, err)

	older := time.Now().UTC().Add(-2 * time.Hour)
	for range 101 {
		deadLetterFor(t, ctx, inactive.ID, older)
	}

	active := createEndpoint(t, ctx)
	want := deadLetterFor(t, ctx, active.ID, time.Now().UTC().Add(-time.Hour))

	due, err := deadLetters.ListDue(ctx, time.Now().UTC(), 100)
	require.NoError(t, err)

	var ids []uuid.UUID
	for _, e := range due {
		assert.NotEqual(t, inactive.ID, e.EndpointID)
		ids = append(ids, e.ID)
	}

	assert.Contains(t, ids, want.ID)
}

func deliveryIDs(ds []models.WebhookDelivery) []uuid.UUID {
	ids := make([]uuid.UUID, len(ds))
	for i, d := range ds {
		ids[i] = d.ID
	}

	return ids
}
