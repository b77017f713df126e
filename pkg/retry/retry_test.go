package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/checkout/pkg/retry"
)

var errTransient = errors.New("transient")

func transientOnly(err error) bool { return errors.Is(err, errTransient) }

func TestDo(t *testing.T) {
	t.Parallel()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := retry.Do(context.Background(), retry.Policy{
			MaxAttempts: 3,
			Retryable:   transientOnly,
		}, func(ctx context.Context, attempt int) error {
			calls++
			if attempt < 3 {
				return errTransient
			}
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("exhausts budget", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := retry.Do(context.Background(), retry.Policy{
			MaxAttempts: 2,
			Retryable:   transientOnly,
		}, func(ctx context.Context, attempt int) error {
			calls++
			return errTransient
		})

		require.Error(t, err)
		assert.ErrorIs(t, err, retry.ErrAttemptsExhausted)
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 2, calls)
	})

	t.Run("does not retry permanent errors", func(t *testing.T) {
		t.Parallel()

		permanent := errors.New("declined")
		calls := 0
		err := retry.Do(context.Background(), retry.Policy{
			MaxAttempts: 5,
			Retryable:   transientOnly,
		}, func(ctx context.Context, attempt int) error {
			calls++
			return permanent
		})

		assert.ErrorIs(t, err, permanent)
		assert.NotErrorIs(t, err, retry.ErrAttemptsExhausted)
		assert.Equal(t, 1, calls)
	})

	t.Run("nil classifier retries nothing", func(t *testing.T) {
		t.Parallel()

		calls := 0
		err := retry.Do(context.Background(), retry.Policy{MaxAttempts: 3}, func(ctx context.Context, attempt int) error {
			calls++
			return errTransient
		})

		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 1, calls)
	})

	t.Run("rejects invalid policy", func(t *testing.T) {
		t.Parallel()

		err := retry.Do(context.Background(), retry.Policy{}, func(ctx context.Context, attempt int) error {
			t.Fatal("must not be called")
			return nil
		})

		assert.ErrorIs(t, err, retry.ErrInvalidPolicy)
	})

	t.Run("stops when context is canceled during backoff", func(t *testing.T) {
		t.Parallel()

		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := retry.Do(ctx, retry.Policy{
			MaxAttempts: 5,
			Backoff:     retry.FixedBackoff{Interval: time.Hour},
			Retryable:   transientOnly,
			OnRetry: func(attempt int, delay time.Duration, err error) {
				cancel()
			},
		}, func(ctx context.Context, attempt int) error {
			calls++
			return errTransient
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 1, calls)
	})

	t.Run("reports retries", func(t *testing.T) {
		t.Parallel()

		var delays []time.Duration
		_ = retry.Do(context.Background(), retry.Policy{
			MaxAttempts: 3,
			Backoff:     retry.FixedBackoff{Interval: time.Millisecond},
			Retryable:   transientOnly,
			OnRetry: func(attempt int, delay time.Duration, err error) {
				delays = append(delays, delay)
			},
		}, func(ctx context.Context, attempt int) error {
			return errTransient
		})

		assert.Equal(t, []time.Duration{time.Millisecond, time.Millisecond}, delays)
	})
}

func TestDoValue(t *testing.T) {
	t.Parallel()

	v, err := retry.DoValue(context.Background(), retry.Policy{
		MaxAttempts: 2,
		Retryable:   transientOnly,
	}, func(ctx context.Context, attempt int) (string, error) {
		if attempt == 1 {
			return "", errTransient
		}
		return "pi_123", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "pi_123", v)
}
