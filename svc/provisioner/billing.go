package provisioner

import "context"

// BillingStatus is the recurring-billing provider's verdict.
type BillingStatus string

const (
	BillingActive         BillingStatus = "active"
	BillingRequiresAction BillingStatus = "requires_action"
	BillingRejected       BillingStatus = "rejected"
	BillingPending        BillingStatus = "pending"
)

// SubscribeParams creates a subscription or, when SubscriptionRef is set,
// moves the existing one to PriceRef.
type SubscribeParams struct {
	BuyerID          string
	PriceRef         string
	PaymentMethodRef string
	SubscriptionRef  string
	IdempotencyKey   string
}

// BillingOutcome reports a subscription's state after a call.
type BillingOutcome struct {
	SubscriptionRef string
	Status          BillingStatus
	ChallengeRef    string
	Reason          string
}

// Billing is the recurring-billing side of the processor.
//
// Subscribe must be idempotent on IdempotencyKey. Errors wrapping
// ErrUnavailable mean the change was not applied and may be retried.
type Billing interface {
	Subscribe(ctx context.Context, p SubscribeParams) (BillingOutcome, error)
	// Resolve re-reads a subscription after its first-invoice challenge.
	Resolve(ctx context.Context, subscriptionRef string) (BillingOutcome, error)
}
