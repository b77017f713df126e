package retry

import (
	"sync"
	"time"
)

// CircuitState is the breaker position.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreaker fails fast while a collaborator keeps failing.
// Closed: consecutive failures up to the threshold open it.
// Open: calls are refused until the recovery timeout elapses.
// Half-open: enough successes close it, any failure reopens it.
type CircuitBreaker struct {
	mu sync.Mutex

	failureThreshold int
	successThreshold int
	recovery         time.Duration
	now              func() time.Time
	onChange         func(from, to CircuitState)

	state     CircuitState
	failures  int
	successes int
	openedAt  time.Time
}

// BreakerOption configures a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) {
		if now != nil {
			cb.now = now
		}
	}
}

// WithStateChange registers fn to be called on every state change. fn runs
// with the breaker locked and must not call back into it.
func WithStateChange(fn func(from, to CircuitState)) BreakerOption {
	return func(cb *CircuitBreaker) { cb.onChange = fn }
}

// NewCircuitBreaker creates a closed breaker. Non-positive arguments fall
// back to 5 failures, 2 successes and 30s recovery.
func NewCircuitBreaker(failureThreshold, successThreshold int, recovery time.Duration, opts ...BreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		failureThreshold: cmpOr(failureThreshold, 5),
		successThreshold: cmpOr(successThreshold, 2),
		recovery:         cmpOr(recovery, 30*time.Second),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if !cb.recovered() {
			return false
		}
		cb.moveTo(CircuitHalfOpen)
	}
	return true
}

// RecordSuccess reports a call that reached the collaborator and got an answer.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.successThreshold {
			cb.moveTo(CircuitClosed)
		}
	}
}

// RecordFailure reports a call that did not get an answer.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.failureThreshold {
			cb.moveTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		cb.moveTo(CircuitOpen)
	case CircuitOpen:
		cb.openedAt = cb.now()
	}
}

// State returns the current position. An open breaker past its recovery
// timeout reports half-open.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen && cb.recovered() {
		return CircuitHalfOpen
	}
	return cb.state
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.moveTo(CircuitClosed)
}

func (cb *CircuitBreaker) recovered() bool {
	return cb.now().Sub(cb.openedAt) > cb.recovery
}

func (cb *CircuitBreaker) moveTo(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.failures, cb.successes = 0, 0
	if to == CircuitOpen {
		cb.openedAt = cb.now()
	}
	if from != to && cb.onChange != nil {
		cb.onChange(from, to)
	}
}

func cmpOr[T int | time.Duration](v, fallback T) T {
	if v <= 0 {
		return fallback
	}
	return v
}
