package provisioner

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"

	"github.com/dmitrymomot/checkout/pkg/logger"
	"github.com/dmitrymomot/checkout/pkg/retry"
	"github.com/dmitrymomot/checkout/svc/processor"
)

const invoiceIntentExpand = "latest_invoice.payment_intent"

// StripeBilling implements Billing with Stripe Subscriptions. New
// subscriptions are created default_incomplete and their first invoice is
// confirmed with the buyer's payment method; plan changes swap the price of
// the single subscription item without proration, since the delta was
// already charged by the checkout.
type StripeBilling struct {
	api       *client.API
	customers *processor.StripeCustomers
	breaker   *retry.CircuitBreaker
	log       *slog.Logger
}

// StripeBillingOption configures StripeBilling.
type StripeBillingOption func(*StripeBilling)

// WithBillingLogger sets the billing client logger.
func WithBillingLogger(log *slog.Logger) StripeBillingOption {
	return func(b *StripeBilling) {
		if log != nil {
			b.log = log
		}
	}
}

// WithBillingBreaker guards subscription calls with cb.
func WithBillingBreaker(cb *retry.CircuitBreaker) StripeBillingOption {
	return func(b *StripeBilling) {
		if cb != nil {
			b.breaker = cb
		}
	}
}

// NewStripeBilling creates subscriptions through api for customers resolved by customers.
func NewStripeBilling(api *client.API, customers *processor.StripeCustomers, opts ...StripeBillingOption) *StripeBilling {
	if api == nil {
		panic("provisioner: nil stripe api")
	}
	if customers == nil {
		panic("provisioner: nil stripe customers")
	}
	b := &StripeBilling{
		api:       api,
		customers: customers,
		breaker:   retry.NewCircuitBreaker(5, 2, 0),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *StripeBilling) Subscribe(ctx context.Context, p SubscribeParams) (BillingOutcome, error) {
	if p.PriceRef == "" {
		return BillingOutcome{}, errInvalid("price ref is required")
	}
	if p.SubscriptionRef != "" {
		return b.changePrice(ctx, p)
	}

	customerID, err := b.customers.Ensure(ctx, p.BuyerID)
	if err != nil {
		if errors.Is(err, processor.ErrUnavailable) {
			return BillingOutcome{}, errors.Join(ErrUnavailable, err)
		}
		return BillingOutcome{}, err
	}

	params := &stripe.SubscriptionParams{
		Customer:             stripe.String(customerID),
		Items:                []*stripe.SubscriptionItemsParams{{Price: stripe.String(p.PriceRef)}},
		DefaultPaymentMethod: stripe.String(p.PaymentMethodRef),
		PaymentBehavior:      stripe.String("default_incomplete"),
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(p.IdempotencyKey)
	params.AddExpand(invoiceIntentExpand)
	params.AddMetadata("buyer_id", p.BuyerID)

	var sub *stripe.Subscription
	if err := b.call(ctx, "create_subscription", func() (err error) {
		sub, err = b.api.Subscriptions.New(params)
		return err
	}); err != nil {
		return BillingOutcome{}, err
	}

	pi := invoiceIntent(sub)
	if sub.Status != stripe.SubscriptionStatusIncomplete || pi == nil {
		return subscriptionOutcome(sub), nil
	}
	if pi.Status != stripe.PaymentIntentStatusRequiresPaymentMethod &&
		pi.Status != stripe.PaymentIntentStatusRequiresConfirmation {
		return subscriptionOutcome(sub), nil
	}

	confirm := &stripe.PaymentIntentConfirmParams{PaymentMethod: stripe.String(p.PaymentMethodRef)}
	confirm.Context = ctx
	confirm.IdempotencyKey = stripe.String(p.IdempotencyKey + ":invoice")

	var confirmed *stripe.PaymentIntent
	err = b.call(ctx, "confirm_invoice", func() (err error) {
		confirmed, err = b.api.PaymentIntents.Confirm(pi.ID, confirm)
		return err
	})
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.Type == stripe.ErrorTypeCard {
			return BillingOutcome{SubscriptionRef: sub.ID, Status: BillingRejected, Reason: cardReason(se)}, nil
		}
		return BillingOutcome{}, err
	}
	return intentOutcome(sub.ID, confirmed), nil
}

func (b *StripeBilling) changePrice(ctx context.Context, p SubscribeParams) (BillingOutcome, error) {
	get := &stripe.SubscriptionParams{}
	get.Context = ctx

	var sub *stripe.Subscription
	if err := b.call(ctx, "get_subscription", func() (err error) {
		sub, err = b.api.Subscriptions.Get(p.SubscriptionRef, get)
		return err
	}); err != nil {
		return BillingOutcome{}, err
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return BillingOutcome{}, errInvalid("subscription has no items")
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{{
			ID:    stripe.String(sub.Items.Data[0].ID),
			Price: stripe.String(p.PriceRef),
		}},
		ProrationBehavior: stripe.String("none"),
	}
	if p.PaymentMethodRef != "" {
		params.DefaultPaymentMethod = stripe.String(p.PaymentMethodRef)
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(p.IdempotencyKey)
	params.AddExpand(invoiceIntentExpand)

	if err := b.call(ctx, "update_subscription", func() (err error) {
		sub, err = b.api.Subscriptions.Update(p.SubscriptionRef, params)
		return err
	}); err != nil {
		return BillingOutcome{}, err
	}
	return subscriptionOutcome(sub), nil
}

func (b *StripeBilling) Resolve(ctx context.Context, subscriptionRef string) (BillingOutcome, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand(invoiceIntentExpand)

	var sub *stripe.Subscription
	if err := b.call(ctx, "get_subscription", func() (err error) {
		sub, err = b.api.Subscriptions.Get(subscriptionRef, params)
		return err
	}); err != nil {
		return BillingOutcome{}, err
	}

	out := subscriptionOutcome(sub)
	if out.Status == BillingRequiresAction {
		out.Status = BillingPending
	}
	return out, nil
}

// call runs fn behind the breaker. Subscription calls carry idempotency keys,
// so every transport or server failure is reported as retryable.
func (b *StripeBilling) call(ctx context.Context, op string, fn func() error) error {
	if !b.breaker.Allow() {
		return errors.Join(ErrUnavailable, retry.ErrCircuitOpen)
	}

	err := fn()
	if err == nil {
		b.breaker.RecordSuccess()
		return nil
	}

	var se *stripe.Error
	switch {
	case !errors.As(err, &se),
		se.HTTPStatusCode == http.StatusTooManyRequests,
		se.HTTPStatusCode >= http.StatusInternalServerError:
		b.breaker.RecordFailure()
		b.log.WarnContext(ctx, "stripe billing call failed",
			logger.Component("provisioner"),
			slog.String("op", op),
			logger.Error(err),
		)
		return errors.Join(ErrUnavailable, err)
	case se.Code == stripe.ErrorCodeResourceMissing:
		b.breaker.RecordSuccess()
		return errors.Join(ErrRecordNotFound, err)
	case se.Type == stripe.ErrorTypeCard:
		b.breaker.RecordSuccess()
		return err
	default:
		b.breaker.RecordSuccess()
		return errors.Join(ErrInvalidRequest, err)
	}
}

func invoiceIntent(sub *stripe.Subscription) *stripe.PaymentIntent {
	if sub.LatestInvoice == nil {
		return nil
	}
	return sub.LatestInvoice.PaymentIntent
}

func subscriptionOutcome(sub *stripe.Subscription) BillingOutcome {
	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return BillingOutcome{SubscriptionRef: sub.ID, Status: BillingActive}
	case stripe.SubscriptionStatusIncompleteExpired, stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid:
		return BillingOutcome{SubscriptionRef: sub.ID, Status: BillingRejected, Reason: string(sub.Status)}
	}
	if pi := invoiceIntent(sub); pi != nil {
		return intentOutcome(sub.ID, pi)
	}
	return BillingOutcome{SubscriptionRef: sub.ID, Status: BillingPending}
}

func intentOutcome(subRef string, pi *stripe.PaymentIntent) BillingOutcome {
	out := BillingOutcome{SubscriptionRef: subRef}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		out.Status = BillingActive
	case stripe.PaymentIntentStatusRequiresAction:
		out.Status = BillingRequiresAction
		out.ChallengeRef = pi.ID
	case stripe.PaymentIntentStatusCanceled:
		out.Status = BillingRejected
		out.Reason = "canceled"
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if pi.LastPaymentError != nil {
			out.Status = BillingRejected
			out.Reason = cardReason(pi.LastPaymentError)
		} else {
			out.Status = BillingPending
		}
	default:
		out.Status = BillingPending
	}
	return out
}

func cardReason(se *stripe.Error) string {
	switch {
	case se.DeclineCode != "":
		return string(se.DeclineCode)
	case se.Code != "":
		return string(se.Code)
	default:
		return "declined"
	}
}

var _ Billing = (*StripeBilling)(nil)
