package processor

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// ParseWebhook verifies the Stripe-Signature header and decodes
// payment_intent.* events. Other event types return ErrUnsupportedEvent.
func (c *StripeClient) ParseWebhook(payload []byte, signature string) (WebhookEvent, error) {
	if c.webhookSecret == "" {
		return WebhookEvent{}, fmt.Errorf("%w: STRIPE_WEBHOOK_SECRET is not set", ErrInvalidConfig)
	}

	ev, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return WebhookEvent{}, errors.Join(ErrInvalidSignature, err)
	}

	switch string(ev.Type) {
	case "payment_intent.succeeded",
		"payment_intent.payment_failed",
		"payment_intent.requires_action",
		"payment_intent.canceled":
	default:
		return WebhookEvent{ID: ev.ID, Type: string(ev.Type)}, ErrUnsupportedEvent
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return WebhookEvent{}, fmt.Errorf("%w: decode payment intent: %w", ErrInvalidRequest, err)
	}

	return WebhookEvent{
		ID:               ev.ID,
		Type:             string(ev.Type),
		IntentRef:        pi.ID,
		CheckoutIntentID: pi.Metadata[MetadataCheckoutIntentID],
		Outcome:          outcomeFromIntent(&pi),
	}, nil
}

var _ WebhookParser = (*StripeClient)(nil)
