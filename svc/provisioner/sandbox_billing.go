package provisioner

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dmitrymomot/checkout/svc/processor"
)

type sandboxSubscription struct {
	ref      string
	priceRef string
	status   BillingStatus
	reason   string
}

// SandboxBilling is a deterministic in-memory Billing. Payment method tokens
// decide the first invoice: processor.TestCardAuthRequired needs a challenge,
// processor.TestCardDeclined is rejected, anything else activates.
type SandboxBilling struct {
	mu       sync.Mutex
	subs     map[string]*sandboxSubscription
	byKey    map[string]BillingOutcome
	verdicts map[string]BillingStatus
	queued   []BillingStatus
	failures []error
	calls    int
}

// NewSandboxBilling returns an in-memory Billing.
func NewSandboxBilling() *SandboxBilling {
	return &SandboxBilling{
		subs:     make(map[string]*sandboxSubscription),
		byKey:    make(map[string]BillingOutcome),
		verdicts: make(map[string]BillingStatus),
	}
}

// FailNext makes the next Subscribe calls return errs without applying them.
func (b *SandboxBilling) FailNext(errs ...error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = append(b.failures, errs...)
}

// QueueStatus overrides the verdict of the next Subscribe calls.
func (b *SandboxBilling) QueueStatus(st ...BillingStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queued = append(b.queued, st...)
}

// SetChallengeVerdict decides what Resolve yields for subscriptionRef; the
// default is BillingActive.
func (b *SandboxBilling) SetChallengeVerdict(subscriptionRef string, st BillingStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.verdicts[subscriptionRef] = st
}

// Calls counts Subscribe invocations, failed ones included.
func (b *SandboxBilling) Calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func (b *SandboxBilling) Subscribe(ctx context.Context, p SubscribeParams) (BillingOutcome, error) {
	if err := ctx.Err(); err != nil {
		return BillingOutcome{}, errors.Join(ErrUnavailable, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls++
	if len(b.failures) > 0 {
		err := b.failures[0]
		b.failures = b.failures[1:]
		return BillingOutcome{}, err
	}
	if out, ok := b.byKey[p.IdempotencyKey]; ok {
		return out, nil
	}

	status := BillingActive
	reason := ""
	switch p.PaymentMethodRef {
	case processor.TestCardAuthRequired:
		status = BillingRequiresAction
	case processor.TestCardDeclined:
		status, reason = BillingRejected, "card_declined"
	}
	if len(b.queued) > 0 {
		status = b.queued[0]
		b.queued = b.queued[1:]
	}

	sub, ok := b.subs[p.SubscriptionRef]
	if !ok {
		sub = &sandboxSubscription{ref: "sub_sandbox_" + strings.ReplaceAll(uuid.NewString(), "-", "")}
		b.subs[sub.ref] = sub
	}
	sub.priceRef = p.PriceRef
	sub.status = status
	sub.reason = reason

	out := sub.outcome()
	b.byKey[p.IdempotencyKey] = out
	return out, nil
}

func (b *SandboxBilling) Resolve(ctx context.Context, subscriptionRef string) (BillingOutcome, error) {
	if err := ctx.Err(); err != nil {
		return BillingOutcome{}, errors.Join(ErrUnavailable, err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[subscriptionRef]
	if !ok {
		return BillingOutcome{}, ErrRecordNotFound
	}
	if sub.status != BillingRequiresAction {
		return sub.outcome(), nil
	}

	verdict, ok := b.verdicts[subscriptionRef]
	if !ok {
		verdict = BillingActive
	}
	switch verdict {
	case BillingActive:
		sub.status = BillingActive
	case BillingRejected:
		sub.status, sub.reason = BillingRejected, "authentication_failed"
	default:
		return BillingOutcome{SubscriptionRef: sub.ref, Status: BillingPending, ChallengeRef: "seti_" + sub.ref}, nil
	}
	return sub.outcome(), nil
}

func (s *sandboxSubscription) outcome() BillingOutcome {
	out := BillingOutcome{SubscriptionRef: s.ref, Status: s.status, Reason: s.reason}
	if s.status == BillingRequiresAction {
		out.ChallengeRef = "seti_" + s.ref
	}
	return out
}

var _ Billing = (*SandboxBilling)(nil)
