package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pharmaintel/hub/internal/retry"
)

type fakeInserter struct {
	failures int
	calls    int
	lastArgs river.JobArgs
	lastOpts *river.InsertOpts
}

func (f *fakeInserter) Insert(_ context.Context, args river.JobArgs, opts *river.InsertOpts) (*rivertype.JobInsertResult, error) {
	f.calls++
	f.lastArgs = args
	f.lastOpts = opts

	if f.calls <= f.failures {
		return nil, errors.New("connection reset")
	}

	return &rivertype.JobInsertResult{Job: &rivertype.JobRow{ID: int64(f.calls)}}, nil
}

func newTestInserter(client Inserter) (*RiverJobInserter, *[]time.Duration) {
	var slept []time.Duration

	ins := NewRiverJobInserter(client, 3)
	ins.policy.Jitter = false
	ins.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)

		return nil
	}

	return ins, &slept
}

func TestRiverJobInserter_InsertDelivery(t *testing.T) {
	client := &fakeInserter{}
	ins, slept := newTestInserter(client)
	id := uuid.Must(uuid.NewV7())

	require.NoError(t, ins.InsertDelivery(context.Background(), id))

	assert.Equal(t, 1, client.calls)
	assert.Empty(t, *slept)
	assert.Equal(t, WebhookDeliveryArgs{WebhookID: id}, client.lastArgs)
	assert.Equal(t, WebhookQueueName, client.lastOpts.Queue)
	assert.Equal(t, 3, client.lastOpts.MaxAttempts)
	assert.True(t, client.lastOpts.UniqueOpts.ByArgs)
	assert.Contains(t, client.lastOpts.UniqueOpts.ByState, rivertype.JobStatePending)
}

func TestRiverJobInserter_RetriesTransientErrors(t *testing.T) {
	client := &fakeInserter{failures: 2}
	ins, slept := newTestInserter(client)

	require.NoError(t, ins.InsertDelivery(context.Background(), uuid.Must(uuid.NewV7())))

	assert.Equal(t, 3, client.calls)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, *slept)
}

func TestRiverJobInserter_GivesUp(t *testing.T) {
	client := &fakeInserter{failures: 10}
	ins, _ := newTestInserter(client)

	err := ins.InsertDelivery(context.Background(), uuid.Must(uuid.NewV7()))

	require.ErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, EnqueuePolicy().MaxAttempts, client.calls)
}

func TestWebhookDeliveryArgs_Kind(t *testing.T) {
	assert.Equal(t, "webhook_delivery", WebhookDeliveryArgs{}.Kind())
	assert.Equal(t, WebhookQueueName, WebhookDeliveryArgs{}.InsertOpts().Queue)
	assert.Equal(t, "dead_letter_sweep", DeadLetterSweepArgs{}.Kind())
}

func TestJobAttrs_IncludesWebhookID(t *testing.T) {
	id := uuid.New()
	encoded, err := json.Marshal(WebhookDeliveryArgs{WebhookID: id})
	require.NoError(t, err)

	attrs := jobAttrs(&rivertype.JobRow{ID: 7, Kind: KindWebhookDelivery, EncodedArgs: encoded, Attempt: 1, MaxAttempts: 5})
	assert.Equal(t, []any{"webhook_id", id}, attrs[len(attrs)-2:])

	sweep := jobAttrs(&rivertype.JobRow{ID: 8, Kind: KindDeadLetterSweep, EncodedArgs: []byte(`{}`)})
	assert.NotContains(t, sweep, "webhook_id")
}

func TestErrorHandler_HandlePanicCancels(t *testing.T) {
	res := (&ErrorHandler{}).HandlePanic(context.Background(),
		&rivertype.JobRow{Kind: KindDeadLetterSweep, EncodedArgs: []byte(`{}`)}, "boom", "trace")

	require.NotNil(t, res)
	assert.True(t, res.SetCancelled)
}
