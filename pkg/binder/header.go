package binder

import "net/http"

// Header binds `header:"Name"` fields. Names are canonicalized, so
// `header:"idempotency-key"` and `header:"Idempotency-Key"` are equivalent.
func Header() func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		return bindTagged(v, "header", ErrInvalidHeader, func(name string) []string {
			return r.Header.Values(http.CanonicalHeaderKey(name))
		})
	}
}
