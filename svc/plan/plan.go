package plan

import "fmt"

// Interval is the recurring billing frequency.
type Interval string

const (
	IntervalMonthly Interval = "monthly"
	IntervalAnnual  Interval = "annual"
)

// Plan is a purchasable subscription plan. Price is the recurring monthly
// amount; Downpayment is charged once when a buyer without a subscription
// purchases the plan.
type Plan struct {
	ID          string   `json:"id" yaml:"id"`
	Name        string   `json:"name" yaml:"name"`
	Description string   `json:"description,omitempty" yaml:"description"`
	Price       Money    `json:"price" yaml:"price"`
	Downpayment Money    `json:"downpayment" yaml:"downpayment"`
	Interval    Interval `json:"interval" yaml:"interval"`
	// PriceRef is the processor's recurring price id.
	PriceRef string `json:"price_ref,omitempty" yaml:"price_ref"`
	Public   bool   `json:"public" yaml:"public"`
}

// Validate checks a plan definition and normalizes its currencies.
func (p *Plan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidPlan)
	}
	if err := p.Price.Validate(); err != nil {
		return fmt.Errorf("plan %s price: %w", p.ID, err)
	}
	if err := p.Downpayment.Validate(); err != nil {
		return fmt.Errorf("plan %s downpayment: %w", p.ID, err)
	}
	if !p.Price.SameCurrency(p.Downpayment) {
		return fmt.Errorf("%w: plan %s price and downpayment currencies differ", ErrInvalidPlan, p.ID)
	}
	switch p.Interval {
	case "":
		p.Interval = IntervalMonthly
	case IntervalMonthly, IntervalAnnual:
	default:
		return fmt.Errorf("%w: plan %s has unknown interval %q", ErrInvalidPlan, p.ID, p.Interval)
	}

	p.Price.Currency, _ = NormalizeCurrency(p.Price.Currency)
	p.Downpayment.Currency = p.Price.Currency
	return nil
}
