package retry

import "errors"

var (
	ErrAttemptsExhausted = errors.New("retry attempts exhausted")
	ErrCircuitOpen       = errors.New("circuit breaker is open")
	ErrInvalidPolicy     = errors.New("invalid retry policy")
)

// IsCircuitOpen checks if an error indicates the circuit breaker is open
func IsCircuitOpen(err error) bool {
	return errors.Is(err, ErrCircuitOpen)
}
