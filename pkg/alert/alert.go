package alert

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Severity orders alerts for routing.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is an operator-facing notice about a checkout that needs attention.
type Alert struct {
	Severity Severity
	Subject  string
	IntentID string
	BuyerID  string
	State    string
	Amount   int64
	Currency string
	Details  map[string]string
}

// Notifier delivers alerts to operators.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// Validate checks the fields every notifier relies on.
func (a Alert) Validate() error {
	if strings.TrimSpace(a.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrInvalidAlert)
	}
	if a.IntentID == "" {
		return fmt.Errorf("%w: intent id is required", ErrInvalidAlert)
	}
	return nil
}

// Tag is the message tag used for filtering in the mail provider.
func (a Alert) Tag() string {
	if a.State == "" {
		return "checkout-alert"
	}
	return "checkout-" + strings.ReplaceAll(a.State, "_", "-")
}

// Text renders a plain-text body with stable field order.
func (a Alert) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", a.Subject)
	fmt.Fprintf(&b, "severity: %s\n", a.severity())
	fmt.Fprintf(&b, "intent:   %s\n", a.IntentID)
	if a.BuyerID != "" {
		fmt.Fprintf(&b, "buyer:    %s\n", a.BuyerID)
	}
	if a.State != "" {
		fmt.Fprintf(&b, "state:    %s\n", a.State)
	}
	if a.Currency != "" {
		fmt.Fprintf(&b, "amount:   %d %s (minor units)\n", a.Amount, a.Currency)
	}

	if len(a.Details) > 0 {
		keys := make([]string, 0, len(a.Details))
		for k := range a.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "%s: %s\n", k, a.Details[k])
		}
	}
	return b.String()
}

func (a Alert) severity() Severity {
	if a.Severity == "" {
		return SeverityWarning
	}
	return a.Severity
}
