// Package processor is the payment processor contract used by checkout
// sessions, with a Stripe PaymentIntents adapter and an in-memory sandbox.
//
// Every mutating call carries an idempotency key derived from the checkout
// intent id, so a replayed request cannot charge twice. Transport failures on
// calls that may have moved money (Confirm) surface as ErrAmbiguousOutcome and
// must be followed by Status before anything is retried; failures on
// replay-safe calls surface as ErrUnavailable.
//
// The sandbox decides outcomes from the processor's public test payment method
// tokens (TestCardVisa, TestCardThreeDSecure, TestCardDeclined ...) and lets
// tests inject failures per operation.
package processor
