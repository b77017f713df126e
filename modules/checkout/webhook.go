package checkout

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/checkout/handler"
	"github.com/dmitrymomot/checkout/pkg/logger"
	checkoutsvc "github.com/dmitrymomot/checkout/svc/checkout"
	"github.com/dmitrymomot/checkout/svc/processor"
)

// maxWebhookSize matches the processor's own payload limit.
const maxWebhookSize = 65536

var ErrInvalidWebhook = handler.NewHTTPError(http.StatusBadRequest, "invalid_webhook")

type webhookRequest struct {
	Signature string `header:"Stripe-Signature"`
}

// webhook resumes the checkout named in the event metadata. Events that
// cannot or need not move an intent are acknowledged so the processor stops
// redelivering them; only transient failures ask for a retry.
func (h *handlers) webhook(ctx handler.Context, req webhookRequest) handler.Response {
	payload, err := io.ReadAll(io.LimitReader(ctx.Request().Body, maxWebhookSize+1))
	if err != nil || len(payload) > maxWebhookSize {
		return handler.Error(ErrInvalidWebhook)
	}

	ev, err := h.hooks.ParseWebhook(payload, req.Signature)
	switch {
	case errors.Is(err, processor.ErrUnsupportedEvent):
		return handler.Empty()
	case err != nil:
		h.log.WarnContext(ctx, "webhook rejected", logger.Error(err))
		return handler.Error(ErrInvalidWebhook)
	}

	attrs := []any{
		slog.String("event_id", ev.ID),
		slog.String("event_type", ev.Type),
		slog.String("processor_intent_ref", ev.IntentRef),
	}
	if ev.CheckoutIntentID == "" || ev.Outcome.Status == processor.StatusRequiresAction {
		h.log.DebugContext(ctx, "webhook ignored", attrs...)
		return handler.Empty()
	}

	ctx2 := logger.ContextWithIntentID(ctx, ev.CheckoutIntentID)
	snap, err := h.svc.ResolveChallenge(ctx2, ev.CheckoutIntentID)
	switch checkoutsvc.KindOf(err) {
	case "":
		h.log.InfoContext(ctx2, "webhook applied", append(attrs, logger.State(string(snap.State)))...)
		return handler.Empty()
	case checkoutsvc.KindProcessorUnavailable,
		checkoutsvc.KindProvisionerUnavailable,
		checkoutsvc.KindAmbiguousOutcome,
		checkoutsvc.KindInternal:
		return handler.Error(err)
	default:
		// nothing pending, already final, or a business outcome already recorded
		h.log.DebugContext(ctx2, "webhook acknowledged", append(attrs, logger.Error(err))...)
		return handler.Empty()
	}
}
