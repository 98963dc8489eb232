package workers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaintel/hub/internal/datatypes"
	"github.com/pharmaintel/hub/internal/huberrors"
	"github.com/pharmaintel/hub/internal/jobs"
	"github.com/pharmaintel/hub/internal/models"
	"github.com/pharmaintel/hub/internal/retry"
)

type stubDeliverer struct {
	delivery *models.WebhookDelivery
	err      error
	calls    []uuid.UUID
}

func (s *stubDeliverer) DeliverWebhook(_ context.Context, id uuid.UUID) (*models.WebhookDelivery, error) {
	s.calls = append(s.calls, id)

	return s.delivery, s.err
}

func deliveryJob(id uuid.UUID) *river.Job[jobs.WebhookDeliveryArgs] {
	return &river.Job[jobs.WebhookDeliveryArgs]{Args: jobs.WebhookDeliveryArgs{WebhookID: id}}
}

func TestWebhookDeliveryWorker_Work(t *testing.T) {
	id := uuid.Must(uuid.NewV7())

	tests := []struct {
		name       string
		deliverer  *stubDeliverer
		wantErr    bool
		wantSnooze bool
	}{
		{
			name:      "delivered",
			deliverer: &stubDeliverer{delivery: &models.WebhookDelivery{ID: id, Status: datatypes.DeliveryDelivered, Attempts: 1}},
		},
		{
			name:      "dead lettered is still a finished job",
			deliverer: &stubDeliverer{delivery: &models.WebhookDelivery{ID: id, Status: datatypes.DeliveryDeadLetter, Attempts: 5}},
		},
		{
			name:      "missing delivery drops the job",
			deliverer: &stubDeliverer{err: huberrors.NotFound(huberrors.ResourceWebhookDelivery)},
		},
		{
			name:       "lease held snoozes",
			deliverer:  &stubDeliverer{err: huberrors.NewConflictError("webhook delivery is already being processed")},
			wantSnooze: true,
		},
		{
			name:      "persistence failure is retried by river",
			deliverer: &stubDeliverer{err: errors.New("connection refused")},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWebhookDeliveryWorker(tt.deliverer, retry.Policy{MaxAttempts: 1})

			err := w.Work(context.Background(), deliveryJob(id))

			assert.Equal(t, []uuid.UUID{id}, tt.deliverer.calls)

			switch {
			case tt.wantSnooze:
				require.Error(t, err)
				assert.NotContains(t, err.Error(), "deliver webhook")
			case tt.wantErr:
				require.Error(t, err)
				assert.Contains(t, err.Error(), id.String())
			default:
				require.NoError(t, err)
			}
		})
	}
}

func TestWebhookDeliveryWorker_Timeout(t *testing.T) {
	policy := retry.Policy{
		InitialDelay: time.Second,
		Multiplier:   2,
		MaxDelay:     10 * time.Second,
		MaxAttempts:  3,
	}

	w := NewWebhookDeliveryWorker(&stubDeliverer{}, policy)

	want := policy.Budget() + 3*MaxEndpointTimeout + time.Minute
	assert.Equal(t, want, w.Timeout(deliveryJob(uuid.Nil)))
}

type stubSweeper struct {
	calls int
	err   error
}

func (s *stubSweeper) SweepDeadLetters(context.Context) (*models.DeadLetterSweepResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}

	return &models.DeadLetterSweepResult{}, nil
}

func TestDeadLetterSweepWorker_Work(t *testing.T) {
	sweeper := &stubSweeper{}
	w := NewDeadLetterSweepWorker(sweeper)

	require.NoError(t, w.Work(context.Background(), &river.Job[jobs.DeadLetterSweepArgs]{}))
	assert.Equal(t, 1, sweeper.calls)

	sweeper.err = errors.New("db down")
	err := w.Work(context.Background(), &river.Job[jobs.DeadLetterSweepArgs]{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dead-letter sweep")
}

type stubReconciler struct {
	n     int
	err   error
	calls int
}

func (s *stubReconciler) ReconcilePending(context.Context) (int, error) {
	s.calls++

	return s.n, s.err
}

func TestReconcileWorker_Work(t *testing.T) {
	reconciler := &stubReconciler{n: 3}
	w := NewReconcileWorker(reconciler)

	require.NoError(t, w.Work(context.Background(), &river.Job[jobs.ReconcileArgs]{}))
	assert.Equal(t, 1, reconciler.calls)
	assert.Equal(t, 10*time.Minute, w.Timeout(&river.Job[jobs.ReconcileArgs]{}))

	reconciler.err = errors.New("db down")
	err := w.Work(context.Background(), &river.Job[jobs.ReconcileArgs]{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reconcile pending deliveries")
}
