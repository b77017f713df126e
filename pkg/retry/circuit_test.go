package retry_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/checkout/pkg/retry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCircuitBreaker(t *testing.T) {
	t.Parallel()

	t.Run("opens after threshold failures", func(t *testing.T) {
		t.Parallel()

		cb := retry.NewCircuitBreaker(2, 1, time.Minute)
		assert.True(t, cb.Allow())

		cb.RecordFailure()
		assert.Equal(t, retry.CircuitClosed, cb.State())

		cb.RecordFailure()
		assert.Equal(t, retry.CircuitOpen, cb.State())
		assert.False(t, cb.Allow())
	})

	t.Run("success resets failure count", func(t *testing.T) {
		t.Parallel()

		cb := retry.NewCircuitBreaker(2, 1, time.Minute)
		cb.RecordFailure()
		cb.RecordSuccess()
		cb.RecordFailure()
		assert.Equal(t, retry.CircuitClosed, cb.State())
	})

	t.Run("half-open after recovery timeout then closes", func(t *testing.T) {
		t.Parallel()

		clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		cb := retry.NewCircuitBreaker(1, 2, 10*time.Second, retry.WithClock(clock.Now))

		cb.RecordFailure()
		assert.False(t, cb.Allow())

		clock.Advance(11 * time.Second)
		assert.Equal(t, retry.CircuitHalfOpen, cb.State())
		assert.True(t, cb.Allow())

		cb.RecordSuccess()
		assert.Equal(t, retry.CircuitHalfOpen, cb.State())
		cb.RecordSuccess()
		assert.Equal(t, retry.CircuitClosed, cb.State())
	})

	t.Run("failure in half-open reopens", func(t *testing.T) {
		t.Parallel()

		clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
		cb := retry.NewCircuitBreaker(1, 1, time.Second, retry.WithClock(clock.Now))

		cb.RecordFailure()
		clock.Advance(2 * time.Second)
		assert.True(t, cb.Allow())

		cb.RecordFailure()
		assert.Equal(t, retry.CircuitOpen, cb.State())
		assert.False(t, cb.Allow())
	})

	t.Run("reset", func(t *testing.T) {
		t.Parallel()

		cb := retry.NewCircuitBreaker(1, 1, time.Minute)
		cb.RecordFailure()
		cb.Reset()
		assert.Equal(t, retry.CircuitClosed, cb.State())
		assert.True(t, cb.Allow())
	})
}

func TestCircuitStateString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "closed", retry.CircuitClosed.String())
	assert.Equal(t, "open", retry.CircuitOpen.String())
	assert.Equal(t, "half-open", retry.CircuitHalfOpen.String())
	assert.Equal(t, "unknown", retry.CircuitState(42).String())
}

func TestCircuitBreakerStateChange(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	var changes []string
	cb := retry.NewCircuitBreaker(1, 1, time.Second,
		retry.WithClock(clock.Now),
		retry.WithStateChange(func(from, to retry.CircuitState) {
			changes = append(changes, from.String()+"->"+to.String())
		}),
	)

	cb.RecordFailure()
	cb.RecordFailure()
	clock.Advance(2 * time.Second)
	assert.True(t, cb.Allow())
	cb.RecordSuccess()
	cb.Reset()

	assert.Equal(t, []string{"closed->open", "open->half-open", "half-open->closed"}, changes)
}
