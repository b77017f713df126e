package provisioner

import (
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/checkout/svc/plan"
)

// Status of a subscription record.
type Status string

const (
	StatusPending        Status = "pending"
	StatusActive         Status = "active"
	StatusRequiresAction Status = "requires_action"
	StatusFailed         Status = "failed"
)

// Record is the buyer's recurring subscription. There is exactly one record
// per buyer; upgrades rewrite it in place.
//
// ClaimKey holds the idempotency key of the change in flight, AppliedKey the
// key of the last change that completed. PendingPlanID and PendingAmount
// carry the target of the in-flight change until it is activated.
type Record struct {
	ID                       uuid.UUID `json:"id"`
	BuyerID                  string    `json:"buyer_id"`
	PlanID                   string    `json:"plan_id"`
	Status                   Status    `json:"status"`
	PaymentMethodRef         string    `json:"payment_method_ref,omitempty"`
	MonthlyAmount            int64     `json:"monthly_amount"`
	Currency                 string    `json:"currency"`
	ProcessorSubscriptionRef string    `json:"processor_subscription_ref,omitempty"`
	ChallengeRef             string    `json:"challenge_ref,omitempty"`
	PendingPlanID            string    `json:"-"`
	PendingAmount            int64     `json:"-"`
	ClaimKey                 string    `json:"-"`
	AppliedKey               string    `json:"-"`
	CreatedAt                time.Time `json:"created_at"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// Activated reports whether the record has ever been billed successfully.
func (r *Record) Activated() bool {
	return r.AppliedKey != ""
}

func (r *Record) activate(key string, now time.Time) {
	r.PlanID = r.PendingPlanID
	r.MonthlyAmount = r.PendingAmount
	r.Status = StatusActive
	r.ChallengeRef = ""
	r.PendingPlanID = ""
	r.PendingAmount = 0
	r.AppliedKey = key
	r.ClaimKey = ""
	r.UpdatedAt = now
}

// reject drops the in-flight change. A record that was active before keeps
// billing its previous plan.
func (r *Record) reject(now time.Time) {
	if r.Activated() {
		r.Status = StatusActive
	} else {
		r.Status = StatusFailed
	}
	r.ChallengeRef = ""
	r.PendingPlanID = ""
	r.PendingAmount = 0
	r.ClaimKey = ""
	r.UpdatedAt = now
}

// Request asks for the buyer's subscription to be created or moved to PlanID.
type Request struct {
	BuyerID          string
	PlanID           string
	PriceRef         string
	PaymentMethodRef string
	MonthlyAmount    int64
	Currency         string
	IdempotencyKey   string
	Kind             plan.Kind
}

func (r Request) validate() error {
	switch {
	case r.BuyerID == "":
		return errInvalid("buyer id is required")
	case r.PlanID == "":
		return errInvalid("plan id is required")
	case r.IdempotencyKey == "":
		return errInvalid("idempotency key is required")
	case r.MonthlyAmount < 0:
		return errInvalid("monthly amount must not be negative")
	case r.Currency == "":
		return errInvalid("currency is required")
	}
	return nil
}

// ResultStatus is the provisioning verdict.
type ResultStatus string

const (
	ResultActive         ResultStatus = "active"
	ResultRequiresAction ResultStatus = "requires_action"
	ResultRejected       ResultStatus = "rejected"
)

// Result of Provision or ResolveChallenge.
type Result struct {
	Status       ResultStatus
	Record       *Record
	ChallengeRef string
	Reason       string
}

// Claim is the conditional write that reserves the buyer's record for one
// provisioning attempt.
type Claim struct {
	BuyerID          string
	Key              string
	PlanID           string
	MonthlyAmount    int64
	Currency         string
	PaymentMethodRef string
}
