package handler

import (
	"errors"
	"net/http"

	"github.com/dmitrymomot/checkout/pkg/binder"
)

// HandlerFunc handles a bound request of type R with context C.
//
//	confirm := handler.HandlerFunc[handler.Context, ConfirmRequest](
//		func(ctx handler.Context, req ConfirmRequest) handler.Response {
//			snap, err := svc.Confirm(ctx, req.ID, checkout.ConfirmRequest{PaymentMethod: req.PaymentMethod})
//			if err != nil {
//				return handler.Error(err)
//			}
//			return handler.JSON(snap)
//		},
//	)
type HandlerFunc[C Context, R any] func(ctx C, req R) Response

// Response renders itself. A non-nil error from Render goes to the ErrorHandler.
type Response interface {
	Render(w http.ResponseWriter, r *http.Request) error
}

// Bind fills v from r. Returning binder.ErrBinderNotApplicable skips the binder.
type Bind func(r *http.Request, v any) error

// ErrorHandler writes the response for a binding or rendering error.
type ErrorHandler[C Context] func(ctx C, err error)

// Decorator wraps a HandlerFunc. The first decorator passed to
// WithDecorators is the outermost.
type Decorator[C Context, R any] func(HandlerFunc[C, R]) HandlerFunc[C, R]

// WrapOption configures Wrap.
type WrapOption[C Context, R any] func(*wrapConfig[C, R])

type wrapConfig[C Context, R any] struct {
	binders        []Bind
	errorHandler   ErrorHandler[C]
	contextFactory func(http.ResponseWriter, *http.Request) C
	decorators     []Decorator[C, R]
}

// WithBinders appends binders, applied in order. Each binder reads only its
// own source: path tags, header tags or the body.
func WithBinders[C Context, R any](binders ...Bind) WrapOption[C, R] {
	return func(c *wrapConfig[C, R]) {
		for _, b := range binders {
			if b != nil {
				c.binders = append(c.binders, b)
			}
		}
	}
}

// WithErrorHandler replaces the default error handler, which renders
// Classify(err) as JSON without logging.
func WithErrorHandler[C Context, R any](h ErrorHandler[C]) WrapOption[C, R] {
	return func(c *wrapConfig[C, R]) {
		if h != nil {
			c.errorHandler = h
		}
	}
}

// WithContextFactory is required when C is not handler.Context.
func WithContextFactory[C Context, R any](f func(http.ResponseWriter, *http.Request) C) WrapOption[C, R] {
	return func(c *wrapConfig[C, R]) {
		if f != nil {
			c.contextFactory = f
		}
	}
}

// WithDecorators appends decorators.
func WithDecorators[C Context, R any](decorators ...Decorator[C, R]) WrapOption[C, R] {
	return func(c *wrapConfig[C, R]) {
		c.decorators = append(c.decorators, decorators...)
	}
}

func defaultErrorHandler[C Context](ctx C, err error) {
	_ = JSONError(Classify(err)).Render(ctx.ResponseWriter(), ctx.Request())
}

func defaultContextFactory[C Context](w http.ResponseWriter, r *http.Request) C {
	c, ok := any(NewContext(w, r)).(C)
	if !ok {
		panic("handler: custom context type requires WithContextFactory")
	}
	return c
}

// Wrap adapts h to http.HandlerFunc: it builds the context, runs the binders,
// calls the decorated handler and renders the response.
func Wrap[C Context, R any](h HandlerFunc[C, R], opts ...WrapOption[C, R]) http.HandlerFunc {
	cfg := &wrapConfig[C, R]{
		errorHandler:   defaultErrorHandler[C],
		contextFactory: defaultContextFactory[C],
	}
	for _, opt := range opts {
		opt(cfg)
	}

	next := h
	for i := len(cfg.decorators) - 1; i >= 0; i-- {
		next = cfg.decorators[i](next)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := cfg.contextFactory(w, r)

		var req R
		for _, bind := range cfg.binders {
			err := bind(r, &req)
			if err == nil || errors.Is(err, binder.ErrBinderNotApplicable) {
				continue
			}
			cfg.errorHandler(ctx, err)
			return
		}

		resp := next(ctx, req)
		if resp == nil {
			cfg.errorHandler(ctx, ErrNilResponse)
			return
		}
		if err := resp.Render(w, r); err != nil {
			cfg.errorHandler(ctx, err)
		}
	}
}
