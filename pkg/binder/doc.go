// Package binder populates request structs from HTTP requests.
//
// Each binder reads one source and only touches fields tagged for it:
//
//   - JSON(): request body, `json:"..."` tags, strict decoding
//   - Path(extractor): route parameters, `path:"..."` tags
//   - Header(): request headers, `header:"..."` tags
//
// Binders are composed through handler.WithBinders:
//
//	type ConfirmRequest struct {
//	    ID             string `path:"id"`
//	    IdempotencyKey string `header:"Idempotency-Key"`
//	    PaymentMethod  string `json:"payment_method"`
//	}
//
//	r.Post("/checkout-intents/{id}/confirm", handler.Wrap(h.confirm,
//	    handler.WithBinders[handler.Context, ConfirmRequest](
//	        binder.Path(chi.URLParam),
//	        binder.Header(),
//	        binder.JSON(),
//	    ),
//	))
//
// A binder returns ErrBinderNotApplicable when the request carries nothing
// for it (for example JSON() on a GET without a body); the handler skips it.
// Any other error wraps one of the package sentinels.
package binder
