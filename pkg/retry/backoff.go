package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff calculates the delay before the next attempt.
// Implementations should be safe for concurrent use.
type Backoff interface {
	// NextInterval returns the delay after the given failed attempt.
	// Attempt starts at 1.
	NextInterval(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff with jitter.
type ExponentialBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	JitterFactor    float64
}

// NextInterval returns min(InitialInterval * Multiplier^(attempt-1) * (1 ± JitterFactor), MaxInterval).
func (e ExponentialBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	initial := e.InitialInterval
	if initial == 0 {
		initial = 200 * time.Millisecond
	}

	maxInterval := e.MaxInterval
	if maxInterval == 0 {
		maxInterval = 5 * time.Second
	}

	multiplier := e.Multiplier
	if multiplier == 0 {
		multiplier = 2
	}

	interval := float64(initial) * math.Pow(multiplier, float64(attempt-1))

	// Zero jitter is allowed for deterministic behavior in tests
	if e.JitterFactor > 0 {
		interval *= 1 + (rand.Float64()*2-1)*e.JitterFactor
	}

	if interval > float64(maxInterval) {
		interval = float64(maxInterval)
	}

	return time.Duration(interval)
}

// LinearBackoff waits Step, 2*Step, 3*Step ... capped at MaxInterval when set.
type LinearBackoff struct {
	Step        time.Duration
	MaxInterval time.Duration
}

// NextInterval returns attempt * Step.
func (l LinearBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	d := time.Duration(attempt) * l.Step
	if l.MaxInterval > 0 && d > l.MaxInterval {
		return l.MaxInterval
	}
	return d
}

// FixedBackoff implements a constant delay between attempts.
type FixedBackoff struct {
	Interval time.Duration
}

// NextInterval always returns the same interval regardless of attempt number.
func (f FixedBackoff) NextInterval(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return f.Interval
}

// DefaultBackoff is tuned for synchronous calls made while a buyer waits:
// 200ms, 400ms, 800ms ... capped at 5s with 10% jitter.
func DefaultBackoff() Backoff {
	return ExponentialBackoff{
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
		JitterFactor:    0.1,
	}
}
