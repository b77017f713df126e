// Package handler provides type-safe HTTP request handling for JSON APIs.
//
// A handler is a generic function from a bound request struct to a
// Response. Wrap turns it into an http.HandlerFunc, running the configured
// binders, decorators and error handler:
//
//	type ConfirmRequest struct {
//		ID            string `path:"id"`
//		PaymentMethod string `json:"payment_method"`
//	}
//
//	func confirm(ctx handler.Context, req ConfirmRequest) handler.Response {
//		snap, err := svc.Confirm(ctx, req.ID, checkout.ConfirmRequest{PaymentMethod: req.PaymentMethod})
//		if err != nil {
//			return handler.Error(err)
//		}
//		return handler.JSON(snap)
//	}
//
//	r.Post("/checkout-intents/{id}/confirm", handler.Wrap(confirm,
//		handler.WithBinders[handler.Context, ConfirmRequest](binder.Path(chi.URLParam), binder.JSON()),
//		handler.WithErrorHandler[handler.Context, ConfirmRequest](handler.NewErrorHandler(log, classify)),
//	))
//
// # Errors
//
// Binding errors, handler.Error responses and render failures all reach the
// ErrorHandler. NewErrorHandler classifies them (domain Classifiers first,
// then HTTPError, ValidationError and binder errors), logs them with the
// request id and writes an ErrorBody:
//
//	{"error": "payment declined", "kind": "processor_declined"}
//
// Unrecognized errors become a 500 with a generic message; the original error
// is only logged.
package handler
