package plan

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/currency"
)

// Money is an amount in the smallest currency unit.
// $10.99 USD is Money{Amount: 1099, Currency: "USD"}.
type Money struct {
	Amount   int64  `json:"amount" yaml:"amount"`
	Currency string `json:"currency" yaml:"currency"`
}

// NormalizeCurrency validates an ISO 4217 code and returns it upper-cased.
func NormalizeCurrency(code string) (string, error) {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return "", errors.Join(ErrInvalidCurrency, fmt.Errorf("%q: %w", code, err))
	}
	return unit.String(), nil
}

// Validate rejects negative amounts and unknown currencies.
func (m Money) Validate() error {
	if m.Amount < 0 {
		return fmt.Errorf("%w: negative amount %d", ErrInvalidPlan, m.Amount)
	}
	if _, err := NormalizeCurrency(m.Currency); err != nil {
		return err
	}
	return nil
}

// SameCurrency compares currency codes case-insensitively.
func (m Money) SameCurrency(o Money) bool {
	return strings.EqualFold(m.Currency, o.Currency)
}

func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.Amount, strings.ToUpper(m.Currency))
}
