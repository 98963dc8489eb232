package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)

	return nil
}

func TestPolicy_Delay(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{9, 256 * time.Second},
		{10, 300 * time.Second},
		{64, 300 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestPolicy_Budget(t *testing.T) {
	p := Policy{InitialDelay: time.Second, Multiplier: 2, MaxDelay: 5 * time.Second, MaxAttempts: 4}

	// 1 + 2 + 4
	assert.Equal(t, 7*time.Second, p.Budget())
}

func TestDo_SucceedsAfterRetries(t *testing.T) {
	s := &recordingSleeper{}
	calls := 0

	attempts, err := Do(context.Background(), DefaultPolicy(), func(_ context.Context, attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)

		if attempt < 3 {
			return errTransient
		}

		return nil
	}, WithSleeper(s.sleep))

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, s.delays)
}

func TestDo_ExhaustsWithIncreasingCappedDelays(t *testing.T) {
	s := &recordingSleeper{}
	p := Policy{InitialDelay: time.Second, Multiplier: 2, MaxDelay: 8 * time.Second, MaxAttempts: 6}

	attempts, err := Do(context.Background(), p, func(context.Context, int) error {
		return errTransient
	}, WithSleeper(s.sleep))

	require.ErrorIs(t, err, ErrExhausted)
	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 6, attempts)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 6, exhausted.Attempts)

	assert.Equal(t, []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 8 * time.Second,
	}, s.delays)
}

func TestDo_StopsOnNonRetryable(t *testing.T) {
	s := &recordingSleeper{}
	errFatal := errors.New("fatal")

	attempts, err := Do(context.Background(), DefaultPolicy(), func(context.Context, int) error {
		return errFatal
	}, WithSleeper(s.sleep), WithPredicate(func(err error) bool {
		return !errors.Is(err, errFatal)
	}))

	require.ErrorIs(t, err, errFatal)
	require.NotErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, s.delays)
}

func TestDo_Permanent(t *testing.T) {
	s := &recordingSleeper{}

	attempts, err := Do(context.Background(), DefaultPolicy(), func(context.Context, int) error {
		return Permanent(errTransient)
	}, WithSleeper(s.sleep))

	require.ErrorIs(t, err, errTransient)
	assert.True(t, IsPermanent(err))
	assert.Equal(t, 1, attempts)
	assert.Nil(t, Permanent(nil))
}

func TestDo_OnRetryHook(t *testing.T) {
	var seen []int

	p := Policy{InitialDelay: time.Millisecond, Multiplier: 2, MaxDelay: time.Millisecond, MaxAttempts: 3}

	_, err := Do(context.Background(), p, func(context.Context, int) error {
		return errTransient
	}, WithSleeper((&recordingSleeper{}).sleep), WithOnRetry(func(_ context.Context, attempt int, _ time.Duration, _ error) {
		seen = append(seen, attempt)
	}))

	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, seen)
}

func TestDo_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{InitialDelay: time.Hour, Multiplier: 2, MaxDelay: time.Hour, MaxAttempts: 3}

	attempts, err := Do(ctx, p, func(context.Context, int) error {
		return errTransient
	})

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestJitter_Bounds(t *testing.T) {
	for range 100 {
		d := jitter(time.Second)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.Less(t, d, time.Second)
	}
}
