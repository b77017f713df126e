package checkout

import (
	"errors"

	"github.com/dmitrymomot/checkout/svc/plan"
	"github.com/dmitrymomot/checkout/svc/processor"
	"github.com/dmitrymomot/checkout/svc/provisioner"
)

var (
	ErrValidation             = errors.New("invalid checkout request")
	ErrNotFound               = errors.New("checkout intent not found")
	ErrIdempotencyKeyReuse    = errors.New("idempotency key was used for a different request")
	ErrConcurrentModification = errors.New("checkout intent was modified concurrently")
	ErrNoChallengePending     = errors.New("checkout intent has no pending challenge")
	ErrChallengeTimeout       = errors.New("authentication challenge timed out")
	ErrProcessorDeclined      = errors.New("payment declined")
	ErrProcessorUnavailable   = errors.New("payment processor unavailable")
	ErrProvisionerUnavailable = errors.New("subscription provisioner unavailable")
	ErrAmbiguousOutcome       = errors.New("payment outcome unknown, retry later")
	ErrIntentExists           = errors.New("checkout intent already exists")
	ErrNotReconcilable        = errors.New("checkout intent is not a partial failure")
)

// ErrorKind classifies errors for callers that map them to responses.
type ErrorKind string

const (
	KindValidation             ErrorKind = "validation_error"
	KindNotFound               ErrorKind = "not_found"
	KindProcessorDeclined      ErrorKind = "processor_declined"
	KindProcessorUnavailable   ErrorKind = "processor_unavailable"
	KindProvisionerUnavailable ErrorKind = "provisioner_unavailable"
	KindConcurrentModification ErrorKind = "concurrent_modification"
	KindSubscriptionConflict   ErrorKind = "subscription_conflict"
	KindChallengeTimeout       ErrorKind = "challenge_timeout"
	KindAmbiguousOutcome       ErrorKind = "ambiguous_outcome"
	KindInternal               ErrorKind = "internal"
)

// KindOf maps err onto an ErrorKind. Unknown errors are KindInternal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrNoChallengePending),
		errors.Is(err, ErrNotReconcilable),
		errors.Is(err, plan.ErrPlanNotFound),
		errors.Is(err, plan.ErrNoChangeRequested),
		errors.Is(err, plan.ErrCurrencyMismatch):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrIdempotencyKeyReuse),
		errors.Is(err, ErrConcurrentModification),
		errors.Is(err, ErrIntentExists):
		return KindConcurrentModification
	case errors.Is(err, provisioner.ErrSubscriptionConflict):
		return KindSubscriptionConflict
	case errors.Is(err, ErrChallengeTimeout):
		return KindChallengeTimeout
	case errors.Is(err, ErrProcessorDeclined):
		return KindProcessorDeclined
	case errors.Is(err, ErrAmbiguousOutcome), errors.Is(err, processor.ErrAmbiguousOutcome):
		return KindAmbiguousOutcome
	case errors.Is(err, ErrProcessorUnavailable), errors.Is(err, processor.ErrUnavailable):
		return KindProcessorUnavailable
	case errors.Is(err, ErrProvisionerUnavailable), errors.Is(err, provisioner.ErrUnavailable):
		return KindProvisionerUnavailable
	default:
		return KindInternal
	}
}
