package processor

import "context"

// Status is the processor's verdict on a payment intent.
type Status string

const (
	StatusSucceeded      Status = "succeeded"
	StatusRequiresAction Status = "requires_action"
	StatusDeclined       Status = "declined"
	StatusPending        Status = "pending"
	// StatusUnconfirmed means no confirm has taken effect on the intent yet,
	// so submitting the payment method again cannot charge twice.
	StatusUnconfirmed Status = "unconfirmed"
)

// IsTerminal reports whether no further buyer action can change the outcome.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusDeclined
}

// CreateIntentParams sizes a payment intent. Amount is in minor units and is
// never recomputed once the intent exists.
type CreateIntentParams struct {
	Amount         int64
	Currency       string
	BuyerID        string
	IdempotencyKey string
	// Metadata is attached to the processor object; the checkout intent id is
	// stored here so webhooks can be routed back.
	Metadata map[string]string
}

// ConfirmParams submits a payment method against an intent.
type ConfirmParams struct {
	IntentRef      string
	PaymentMethod  string
	IdempotencyKey string
}

// Outcome is what the processor reported for a confirm, challenge or status query.
type Outcome struct {
	Status           Status
	PaymentMethodRef string
	ChallengeRef     string
	CapturedAmount   int64
	DeclineReason    string
}

// Client is the contract the checkout session depends on.
//
// Errors: ErrUnavailable means the request was not processed and may be
// retried. ErrAmbiguousOutcome means the request was sent but the result is
// unknown; callers must query Status before any retry.
type Client interface {
	CreateIntent(ctx context.Context, p CreateIntentParams) (intentRef string, err error)
	Confirm(ctx context.Context, p ConfirmParams) (Outcome, error)
	ResolveChallenge(ctx context.Context, challengeRef string) (Outcome, error)
	Status(ctx context.Context, intentRef string) (Outcome, error)
	Cancel(ctx context.Context, intentRef, idempotencyKey string) error
}

// WebhookEvent is a verified processor notification about an intent.
type WebhookEvent struct {
	ID               string
	Type             string
	IntentRef        string
	CheckoutIntentID string
	Outcome          Outcome
}

// WebhookParser verifies and decodes processor webhooks.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (WebhookEvent, error)
}

// MetadataCheckoutIntentID is the metadata key carrying the checkout intent id.
const MetadataCheckoutIntentID = "checkout_intent_id"
