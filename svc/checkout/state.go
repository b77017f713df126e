package checkout

import (
	"context"
	"errors"

	"github.com/dmitrymomot/checkout/pkg/statemachine"
)

// State is the persisted position of a checkout intent.
type State string

const (
	StateCreated                   State = "created"
	StateAwaitingProcessorIntent   State = "awaiting_processor_intent"
	StateAuthorizingPayment        State = "authorizing_payment"
	StatePaymentAuthChallenge      State = "payment_auth_challenge"
	StateDownpaymentCaptured       State = "downpayment_captured"
	StateProvisioningSubscription  State = "provisioning_subscription"
	StateSubscriptionAuthChallenge State = "subscription_auth_challenge"
	StateSucceeded                 State = "succeeded"
	StatePartialFailure            State = "partial_failure"
	StateFailed                    State = "failed"
	StateAbandoned                 State = "abandoned"
	// StateRefundRequired is a partial failure the reconciler gave up on.
	// Money was captured and an operator must refund it.
	StateRefundRequired State = "refund_required"
)

func (s State) Name() string { return string(s) }

// IsFinal reports whether the session is over. PartialFailure is final for
// the session although the reconciler may still move it.
func (s State) IsFinal() bool {
	switch s {
	case StateSucceeded, StatePartialFailure, StateFailed, StateAbandoned, StateRefundRequired:
		return true
	}
	return false
}

// IsChallenge reports whether the session is suspended on the buyer.
func (s State) IsChallenge() bool {
	return s == StatePaymentAuthChallenge || s == StateSubscriptionAuthChallenge
}

// Captured reports whether the down-payment was taken in this state or an
// earlier one on the same path.
func (s State) Captured() bool {
	switch s {
	case StateDownpaymentCaptured, StateProvisioningSubscription, StateSubscriptionAuthChallenge,
		StateSucceeded, StatePartialFailure, StateRefundRequired:
		return true
	}
	return false
}

// Event drives a transition.
type Event string

const (
	EventRequestIntent         Event = "request_intent"
	EventSubmitPayment         Event = "submit_payment"
	EventIntentFailed          Event = "intent_failed"
	EventChallengeRequired     Event = "challenge_required"
	EventCaptured              Event = "captured"
	EventDeclined              Event = "declined"
	EventPaymentFailed         Event = "payment_failed"
	EventAbandon               Event = "abandon"
	EventProvision             Event = "provision"
	EventSubscriptionChallenge Event = "subscription_challenge"
	EventActivated             Event = "activated"
	EventProvisionFailed       Event = "provision_failed"
	EventRefundRequired        Event = "refund_required"
)

func (e Event) Name() string { return string(e) }

var machine = statemachine.MustNew(
	statemachine.WithTransition(StateCreated, StateAwaitingProcessorIntent, EventRequestIntent),
	statemachine.WithTransition(StateCreated, StateAbandoned, EventAbandon),

	statemachine.WithTransition(StateAwaitingProcessorIntent, StateAuthorizingPayment, EventSubmitPayment,
		statemachine.WithGuard(intentReady)),
	statemachine.WithTransition(StateAwaitingProcessorIntent, StateFailed, EventIntentFailed),
	statemachine.WithTransition(StateAwaitingProcessorIntent, StateAbandoned, EventAbandon),

	statemachine.WithTransition(StateAuthorizingPayment, StatePaymentAuthChallenge, EventChallengeRequired),
	statemachine.WithTransition(StateAuthorizingPayment, StateDownpaymentCaptured, EventCaptured),
	statemachine.WithTransition(StateAuthorizingPayment, StateFailed, EventDeclined),
	statemachine.WithTransition(StateAuthorizingPayment, StateFailed, EventPaymentFailed),

	statemachine.WithTransition(StatePaymentAuthChallenge, StateDownpaymentCaptured, EventCaptured),
	statemachine.WithTransition(StatePaymentAuthChallenge, StateFailed, EventDeclined),
	statemachine.WithTransition(StatePaymentAuthChallenge, StateAbandoned, EventAbandon),

	statemachine.WithTransition(StateDownpaymentCaptured, StateProvisioningSubscription, EventProvision),

	statemachine.WithTransition(StateProvisioningSubscription, StateSubscriptionAuthChallenge, EventSubscriptionChallenge),
	statemachine.WithTransition(StateProvisioningSubscription, StateSucceeded, EventActivated),
	statemachine.WithTransition(StateProvisioningSubscription, StatePartialFailure, EventProvisionFailed),

	statemachine.WithTransition(StateSubscriptionAuthChallenge, StateSucceeded, EventActivated),
	statemachine.WithTransition(StateSubscriptionAuthChallenge, StatePartialFailure, EventProvisionFailed),
	statemachine.WithTransition(StateSubscriptionAuthChallenge, StateAbandoned, EventAbandon),

	statemachine.WithTransition(StatePartialFailure, StateSucceeded, EventActivated),
	statemachine.WithTransition(StatePartialFailure, StateRefundRequired, EventRefundRequired),

	statemachine.WithTerminal(StateSucceeded, StateFailed, StateAbandoned, StateRefundRequired),
)

// intentReady lets a payment method in only once there is something to
// confirm it against: a processor intent, or nothing due today.
func intentReady(_ context.Context, _ statemachine.State, _ statemachine.Event, data any) bool {
	in, ok := data.(*Intent)
	return ok && (in.AmountDueToday == 0 || in.ProcessorIntentRef != "")
}

// nextState resolves event for in. A transition the table does not know is
// reported as ErrConcurrentModification: the caller acted on a state another
// writer has already moved past.
func nextState(ctx context.Context, in *Intent, event Event) (State, error) {
	to, err := machine.Next(ctx, in.State, event, in)
	switch {
	case err == nil:
		return to.(State), nil
	case errors.Is(err, statemachine.ErrRejected):
		return "", errors.Join(ErrValidation, err)
	default:
		return "", errors.Join(ErrConcurrentModification, err)
	}
}

// Targets lists the states reachable from s in one transition.
func (s State) Targets() []State {
	targets := machine.Targets(s)
	out := make([]State, 0, len(targets))
	for _, t := range targets {
		out = append(out, t.(State))
	}
	return out
}
