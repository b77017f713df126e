// Package retry runs calls against unreliable collaborators with a bounded
// attempt budget, pluggable backoff and an optional circuit breaker.
//
// Only errors the caller classifies as retryable are retried. Everything else
// (declines, validation failures, ambiguous outcomes that need a status query
// first) is returned on the first attempt:
//
//	policy := retry.Policy{
//	    MaxAttempts: 3,
//	    Backoff:     retry.DefaultBackoff(),
//	    Retryable:   func(err error) bool { return errors.Is(err, processor.ErrUnavailable) },
//	}
//
//	ref, err := retry.DoValue(ctx, policy, func(ctx context.Context, attempt int) (string, error) {
//	    return client.CreateIntent(ctx, params)
//	})
//	if errors.Is(err, retry.ErrAttemptsExhausted) {
//	    // budget spent; err also wraps the last failure
//	}
//
// The breaker protects a collaborator that keeps failing: after a threshold of
// consecutive failures it rejects calls without sending them until a recovery
// timeout has passed, then lets trial requests through (half-open).
package retry
