package logger

import (
	"log/slog"
	"strconv"
	"time"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Errors groups multiple non-nil errors under the key "errors".
// If all errors are nil, it returns an empty Attr.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// IntentID records the checkout intent identifier under the key "intent_id".
func IntentID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("intent_id", id)
}

// BuyerID records the buyer identifier under the key "buyer_id".
func BuyerID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("buyer_id", id)
}

// PlanID records the plan identifier under the key "plan_id".
func PlanID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("plan_id", id)
}

// State records a checkout state under the key "state".
func State(s any) slog.Attr {
	return slog.Any("state", s)
}

// Transition records a state change as a "transition" group.
func Transition(from, to, event any) slog.Attr {
	return Group("transition",
		slog.Any("from", from),
		slog.Any("to", to),
		slog.Any("event", event),
	)
}

// ProcessorRef records the payment processor's reference for an intent.
func ProcessorRef(ref string) slog.Attr {
	if ref == "" {
		return slog.Attr{}
	}
	return slog.String("processor_ref", ref)
}

// Attempt records a retry attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

// RequestID records the request identifier under the key "request_id".
func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}

// Component records the emitting component under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// Duration records a duration under the key "duration".
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Event records the event name under the key "event".
func Event(name string) slog.Attr {
	return slog.String("event", name)
}
