package checkout

import (
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/dmitrymomot/checkout/svc/plan"
	"github.com/dmitrymomot/checkout/svc/provisioner"
)

// FailureKind records why a session ended badly.
type FailureKind string

const (
	FailureDeclined               FailureKind = "declined"
	FailureProcessorUnavailable   FailureKind = "processor_unavailable"
	FailureProcessorRejected      FailureKind = "processor_rejected"
	FailureProvisionerUnavailable FailureKind = "provisioner_unavailable"
	FailureProvisionRejected      FailureKind = "provision_rejected"
	FailureSubscriptionConflict   FailureKind = "subscription_conflict"
	FailureAmbiguousOutcome       FailureKind = "ambiguous_outcome"
	FailureChallengeTimeout       FailureKind = "challenge_timeout"
	FailureInactive               FailureKind = "inactive"
)

// Intent is one attempt to pay and provision. ID is the caller's
// idempotency key. AmountDueToday is written once at creation.
type Intent struct {
	ID                 string
	BuyerID            string
	TargetPlanID       string
	PreviousPlanID     string
	AmountDueToday     int64
	Currency           string
	Kind               plan.Kind
	ProcessorIntentRef string
	State              State
	Version            int64
	Fingerprint        string
	PaymentMethod      string
	ChallengeRef       string
	ChallengeExpiresAt time.Time
	FailureKind        FailureKind
	FailureReason      string
	ReconcileAttempts  int
	CreatedAt          time.Time
	LastTransitionAt   time.Time
}

// AuthorizationStatus is the processor's verdict on the down-payment.
type AuthorizationStatus string

const (
	AuthorizationRequiresAction AuthorizationStatus = "requires_action"
	AuthorizationSucceeded      AuthorizationStatus = "succeeded"
	AuthorizationFailed         AuthorizationStatus = "failed"
)

// Authorization is the result of confirming the down-payment. There is at
// most one per intent.
type Authorization struct {
	CheckoutIntentID string              `json:"-"`
	PaymentMethodRef string              `json:"payment_method_ref"`
	ProcessorStatus  AuthorizationStatus `json:"processor_status"`
	CapturedAmount   int64               `json:"captured_amount"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// Snapshot is the read model returned to callers and cached for polling.
type Snapshot struct {
	ID                 string              `json:"id"`
	BuyerID            string              `json:"buyer_id"`
	State              State               `json:"state"`
	Kind               plan.Kind           `json:"kind"`
	TargetPlanID       string              `json:"target_plan_id"`
	PreviousPlanID     string              `json:"previous_plan_id,omitempty"`
	AmountDueToday     int64               `json:"amount_due_today"`
	Currency           string              `json:"currency"`
	ProcessorIntentRef string              `json:"processor_intent_ref,omitempty"`
	ChallengeRef       string              `json:"challenge_ref,omitempty"`
	ChallengeExpiresAt *time.Time          `json:"challenge_expires_at,omitempty"`
	FailureKind        FailureKind         `json:"failure_kind,omitempty"`
	FailureReason      string              `json:"failure_reason,omitempty"`
	Authorization      *Authorization      `json:"authorization,omitempty"`
	Subscription       *provisioner.Record `json:"subscription,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	LastTransitionAt   time.Time           `json:"last_transition_at"`
}

func newSnapshot(in *Intent, auth *Authorization, sub *provisioner.Record) *Snapshot {
	s := &Snapshot{
		ID:                 in.ID,
		BuyerID:            in.BuyerID,
		State:              in.State,
		Kind:               in.Kind,
		TargetPlanID:       in.TargetPlanID,
		PreviousPlanID:     in.PreviousPlanID,
		AmountDueToday:     in.AmountDueToday,
		Currency:           in.Currency,
		ProcessorIntentRef: in.ProcessorIntentRef,
		FailureKind:        in.FailureKind,
		FailureReason:      in.FailureReason,
		Authorization:      auth,
		Subscription:       sub,
		CreatedAt:          in.CreatedAt,
		LastTransitionAt:   in.LastTransitionAt,
	}
	if in.State.IsChallenge() {
		s.ChallengeRef = in.ChallengeRef
		exp := in.ChallengeExpiresAt
		s.ChallengeExpiresAt = &exp
	}
	return s
}

// CreateRequest starts a checkout. BuyerID comes from the authenticated caller.
type CreateRequest struct {
	IdempotencyKey string `validate:"required,min=8,max=128,printascii"`
	BuyerID        string `validate:"required,max=128"`
	TargetPlanID   string `validate:"required,max=64"`
}

// ConfirmRequest submits the buyer's tokenized payment method.
type ConfirmRequest struct {
	PaymentMethod string `validate:"required,max=255"`
}

// fingerprint binds an idempotency key to the request it was first used with.
func fingerprint(buyerID, targetPlanID string) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(buyerID))
	h.Write([]byte{0})
	h.Write([]byte(targetPlanID))
	return hex.EncodeToString(h.Sum(nil))
}
