package plan

import (
	"fmt"
	"strings"
)

// Kind distinguishes a first purchase from a change of an existing subscription.
type Kind string

const (
	KindNewPurchase Kind = "new_purchase"
	KindUpgrade     Kind = "upgrade"
)

// Current is the buyer's existing subscription as recorded server-side.
type Current struct {
	PlanID       string
	MonthlyPrice Money
}

// Quote is the outcome of ComputeAmount.
type Quote struct {
	Kind           Kind
	AmountDueToday Money
	TargetPlanID   string
	PreviousPlanID string
}

// ComputeAmount decides what the buyer pays today for moving to target.
// With no current subscription the target's down-payment is due. Otherwise the
// monthly price difference is due, clamped at zero for downgrades.
func ComputeAmount(current *Current, target Plan) (Quote, error) {
	if current == nil {
		return Quote{
			Kind:           KindNewPurchase,
			AmountDueToday: target.Downpayment,
			TargetPlanID:   target.ID,
		}, nil
	}

	if current.PlanID == target.ID {
		return Quote{}, fmt.Errorf("%w: %q", ErrNoChangeRequested, target.ID)
	}
	if !strings.EqualFold(current.MonthlyPrice.Currency, target.Price.Currency) {
		return Quote{}, fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, current.MonthlyPrice.Currency, target.Price.Currency)
	}

	return Quote{
		Kind: KindUpgrade,
		AmountDueToday: Money{
			Amount:   max(target.Price.Amount-current.MonthlyPrice.Amount, 0),
			Currency: target.Price.Currency,
		},
		TargetPlanID:   target.ID,
		PreviousPlanID: current.PlanID,
	}, nil
}
