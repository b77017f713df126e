package logger

import (
	"context"
	"log/slog"
)

type intentKey struct{}

// ContextWithIntentID stores the checkout intent id so every record logged
// with this context carries it.
func ContextWithIntentID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, intentKey{}, id)
}

// IntentIDFromContext returns the intent id stored by ContextWithIntentID.
func IntentIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(intentKey{}).(string)
	return id, ok && id != ""
}

// IntentExtractor injects the context's intent id. Register it with
// WithContextExtractors; New does this by default.
func IntentExtractor(ctx context.Context) (slog.Attr, bool) {
	if id, ok := IntentIDFromContext(ctx); ok {
		return IntentID(id), true
	}
	return slog.Attr{}, false
}
