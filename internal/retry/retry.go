// Package retry runs an operation under an exponential backoff policy with a retry predicate.
// Webhook delivery and queue inserts both go through Do.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// Default policy values.
const (
	DefaultInitialDelay = time.Second
	DefaultMultiplier   = 2.0
	DefaultMaxDelay     = 300 * time.Second
	DefaultMaxAttempts  = 10
)

// ErrExhausted matches any *ExhaustedError via errors.Is.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy describes how many times an operation runs and how long to wait in between.
type Policy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	MaxAttempts  int
	// Jitter scales each delay into [50%, 100%) of its value.
	Jitter bool
}

// DefaultPolicy returns 1s initial delay, x2 multiplier, 300s cap and 10 attempts.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay: DefaultInitialDelay,
		Multiplier:   DefaultMultiplier,
		MaxDelay:     DefaultMaxDelay,
		MaxAttempts:  DefaultMaxAttempts,
	}
}

func (p Policy) normalized() Policy {
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultInitialDelay
	}

	if p.Multiplier < 1 {
		p.Multiplier = 1
	}

	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}

	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	return p
}

// Delay returns the wait after the given failed attempt (1-based), before jitter.
func (p Policy) Delay(attempt int) time.Duration {
	p = p.normalized()

	if attempt < 1 {
		attempt = 1
	}

	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if math.IsInf(d, 1) || d >= float64(p.MaxDelay) {
		return p.MaxDelay
	}

	return time.Duration(d)
}

// Budget is the longest Do can spend sleeping when every attempt fails.
func (p Policy) Budget() time.Duration {
	p = p.normalized()

	var total time.Duration
	for attempt := 1; attempt < p.MaxAttempts; attempt++ {
		total += p.Delay(attempt)
	}

	return total
}

// Operation is one attempt; attempt is 1-based.
type Operation func(ctx context.Context, attempt int) error

// Predicate reports whether a failed attempt should be retried.
type Predicate func(err error) bool

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// RetryHook is called after a retryable failure, before sleeping.
type RetryHook func(ctx context.Context, attempt int, delay time.Duration, err error)

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Is matches ErrExhausted.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhausted
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so that the default predicate stops retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}

	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError

	return errors.As(err, &pe)
}

type runner struct {
	retryable Predicate
	sleep     Sleeper
	onRetry   RetryHook
}

// Option configures a single Do call.
type Option func(*runner)

// WithPredicate replaces the default predicate (retry everything not marked Permanent).
func WithPredicate(p Predicate) Option {
	return func(r *runner) { r.retryable = p }
}

// WithSleeper replaces the timer-based sleep; tests use it to record delays.
func WithSleeper(s Sleeper) Option {
	return func(r *runner) { r.sleep = s }
}

// WithOnRetry registers a hook for logging or metrics.
func WithOnRetry(h RetryHook) Option {
	return func(r *runner) { r.onRetry = h }
}

// Do runs op until it succeeds, fails with a non-retryable error, or the policy's attempts are used up.
// It returns the number of attempts made. Exhaustion yields an *ExhaustedError wrapping the last error.
func Do(ctx context.Context, policy Policy, op Operation, opts ...Option) (int, error) {
	policy = policy.normalized()

	r := runner{
		retryable: func(err error) bool { return !IsPermanent(err) },
		sleep:     Sleep,
	}
	for _, opt := range opts {
		opt(&r)
	}

	for attempt := 1; ; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			return attempt, nil
		}

		if IsPermanent(err) || !r.retryable(err) {
			return attempt, err
		}

		if attempt >= policy.MaxAttempts {
			return attempt, &ExhaustedError{Attempts: attempt, Err: err}
		}

		delay := policy.Delay(attempt)
		if policy.Jitter {
			delay = jitter(delay)
		}

		if r.onRetry != nil {
			r.onRetry(ctx, attempt, delay, err)
		}

		if serr := r.sleep(ctx, delay); serr != nil {
			return attempt, serr
		}
	}
}

// Sleep blocks for d or until ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("backoff interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// jitter returns a duration between 50% and 100% of d.
func jitter(d time.Duration) time.Duration {
	half := d / 2
	if half <= 0 {
		return d
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return half
	}

	//nolint:gosec // G115: modulo result is in [0, half), safe to convert to int64
	return half + time.Duration(int64(binary.BigEndian.Uint64(buf[:])%uint64(half.Nanoseconds())))
}
