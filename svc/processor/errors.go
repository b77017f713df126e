package processor

import "errors"

var (
	ErrUnavailable      = errors.New("payment processor unavailable")
	ErrAmbiguousOutcome = errors.New("payment processor outcome unknown")
	ErrNotCancelable    = errors.New("payment intent is not cancelable")
	ErrIntentNotFound   = errors.New("payment intent not found")
	ErrInvalidRequest   = errors.New("payment processor rejected the request")
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrUnsupportedEvent = errors.New("unsupported webhook event")
	ErrInvalidConfig    = errors.New("invalid processor config")
)

// IsRetryable reports whether err is safe to retry without a status query.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
