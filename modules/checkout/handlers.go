package checkout

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/checkout/handler"
	"github.com/dmitrymomot/checkout/pkg/binder"
	"github.com/dmitrymomot/checkout/pkg/logger"
	checkoutsvc "github.com/dmitrymomot/checkout/svc/checkout"
	"github.com/dmitrymomot/checkout/svc/processor"
)

var (
	pathBinder   = binder.Path(chi.URLParam)
	headerBinder = binder.Header()
	jsonBinder   = binder.JSON()
)

type handlers struct {
	svc    Service
	hooks  processor.WebhookParser
	log    *slog.Logger
	errors handler.ErrorHandler[handler.Context]
}

func wrap[R any](h *handlers, fn handler.HandlerFunc[handler.Context, R], binders ...handler.Bind) http.HandlerFunc {
	return handler.Wrap(fn,
		handler.WithBinders[handler.Context, R](binders...),
		handler.WithErrorHandler[handler.Context, R](h.errors),
		handler.WithDecorators[handler.Context, R](tagIntent[R]),
	)
}

// tagIntent puts the {id} path parameter into the context so service logs
// for the request carry the intent id.
func tagIntent[R any](next handler.HandlerFunc[handler.Context, R]) handler.HandlerFunc[handler.Context, R] {
	return func(ctx handler.Context, req R) handler.Response {
		id := chi.URLParam(ctx.Request(), "id")
		if id == "" {
			return next(ctx, req)
		}
		r := ctx.Request().WithContext(logger.ContextWithIntentID(ctx, id))
		return next(handler.NewContext(ctx.ResponseWriter(), r), req)
	}
}

type createRequest struct {
	IdempotencyKey string `header:"Idempotency-Key"`
	BuyerID        string `header:"X-Buyer-ID"`
	TargetPlanID   string `json:"target_plan_id"`
}

type confirmRequest struct {
	ID             string `path:"id"`
	IdempotencyKey string `header:"Idempotency-Key"`
	BuyerID        string `header:"X-Buyer-ID"`
	PaymentMethod  string `json:"payment_method"`
}

type intentRequest struct {
	ID             string `path:"id"`
	IdempotencyKey string `header:"Idempotency-Key"`
	BuyerID        string `header:"X-Buyer-ID"`
}

// IntentError is the body of an error that still has an intent to show,
// such as a declined payment.
type IntentError struct {
	handler.ErrorBody
	Intent *checkoutsvc.Snapshot `json:"intent"`
}

func (h *handlers) create(ctx handler.Context, req createRequest) handler.Response {
	if req.BuyerID == "" {
		return handler.Error(ErrMissingBuyer)
	}
	snap, err := h.svc.Create(ctx, checkoutsvc.CreateRequest{
		IdempotencyKey: req.IdempotencyKey,
		BuyerID:        req.BuyerID,
		TargetPlanID:   req.TargetPlanID,
	})
	if err != nil {
		return h.fail(ctx, snap, err)
	}
	return handler.JSON(snap,
		handler.WithJSONStatus(http.StatusCreated),
		handler.WithJSONHeader("Location", "/checkout-intents/"+snap.ID),
	)
}

func (h *handlers) get(ctx handler.Context, req intentRequest) handler.Response {
	snap, err := h.owned(ctx, req.ID, req.BuyerID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(snap)
}

func (h *handlers) confirm(ctx handler.Context, req confirmRequest) handler.Response {
	if err := keyMatches(req.ID, req.IdempotencyKey); err != nil {
		return handler.Error(err)
	}
	if _, err := h.owned(ctx, req.ID, req.BuyerID); err != nil {
		return handler.Error(err)
	}
	snap, err := h.svc.Confirm(ctx, req.ID, checkoutsvc.ConfirmRequest{PaymentMethod: req.PaymentMethod})
	if err != nil {
		return h.fail(ctx, snap, err)
	}
	return handler.JSON(snap)
}

func (h *handlers) resolveChallenge(ctx handler.Context, req intentRequest) handler.Response {
	if err := keyMatches(req.ID, req.IdempotencyKey); err != nil {
		return handler.Error(err)
	}
	if _, err := h.owned(ctx, req.ID, req.BuyerID); err != nil {
		return handler.Error(err)
	}
	snap, err := h.svc.ResolveChallenge(ctx, req.ID)
	if err != nil {
		return h.fail(ctx, snap, err)
	}
	return handler.JSON(snap)
}

// owned loads the intent and hides it from other buyers. Callers without
// X-Buyer-ID are trusted.
func (h *handlers) owned(ctx handler.Context, id, buyerID string) (*checkoutsvc.Snapshot, error) {
	snap, err := h.svc.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if buyerID != "" && snap.BuyerID != buyerID {
		return nil, checkoutsvc.ErrNotFound
	}
	return snap, nil
}

// fail renders err together with the intent when the service returned one,
// so clients see the state a declined or expired checkout ended in.
func (h *handlers) fail(ctx handler.Context, snap *checkoutsvc.Snapshot, err error) handler.Response {
	if snap == nil {
		return handler.Error(err)
	}
	info, ok := Classify(err)
	if !ok {
		return handler.Error(err)
	}
	h.log.LogAttrs(ctx, slog.LevelInfo, "checkout request failed",
		logger.IntentID(snap.ID),
		logger.State(string(snap.State)),
		slog.String("kind", info.Kind),
		slog.Int("status_code", info.StatusCode),
		logger.Error(err),
	)
	return handler.JSON(IntentError{
		ErrorBody: handler.ErrorBody{Error: info.Message, Kind: info.Kind, Details: info.Details},
		Intent:    snap,
	}, handler.WithJSONStatus(info.StatusCode))
}

func keyMatches(id, key string) error {
	verr := handler.NewValidationError()
	switch {
	case key == "":
		verr.Add("Idempotency-Key", ErrMissingIdempotency.Error())
	case key != id:
		verr.Add("Idempotency-Key", ErrKeyMismatch.Error())
	default:
		return nil
	}
	return verr
}
