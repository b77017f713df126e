package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy bounds how a call is retried.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first one.
	MaxAttempts int
	// Backoff decides the pause between attempts. Nil means no pause.
	Backoff Backoff
	// Retryable reports whether a failed attempt may be repeated.
	// Nil means nothing is retried.
	Retryable func(error) bool
	// OnRetry is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// Func is a single attempt. Attempt numbering starts at 1.
type Func func(ctx context.Context, attempt int) error

// Do calls fn until it succeeds, returns a non-retryable error, the context
// is done, or the attempt budget is spent. In the last case the returned error
// wraps both ErrAttemptsExhausted and the final failure.
func Do(ctx context.Context, p Policy, fn Func) error {
	_, err := DoValue(ctx, p, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, fn(ctx, attempt)
	})
	return err
}

// DoValue is Do for calls that produce a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T

	if p.MaxAttempts <= 0 {
		return zero, fmt.Errorf("%w: max attempts must be positive, got %d", ErrInvalidPolicy, p.MaxAttempts)
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, errors.Join(err, lastErr)
		}

		v, err := fn(ctx, attempt)
		if err == nil {
			return v, nil
		}
		lastErr = err

		if p.Retryable == nil || !p.Retryable(err) {
			return zero, err
		}
		if attempt == p.MaxAttempts {
			break
		}

		var delay time.Duration
		if p.Backoff != nil {
			delay = p.Backoff.NextInterval(attempt)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, errors.Join(err, lastErr)
		}
	}

	return zero, errors.Join(ErrAttemptsExhausted, lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
