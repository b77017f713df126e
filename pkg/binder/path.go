package binder

import (
	"fmt"
	"net/http"
)

// Path binds `path:"name"` fields using extractor, typically chi.URLParam.
// Empty parameters leave the zero value.
func Path(extractor func(r *http.Request, name string) string) func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		if extractor == nil {
			return fmt.Errorf("%w: extractor function is nil", ErrInvalidPath)
		}
		return bindTagged(v, "path", ErrInvalidPath, func(name string) []string {
			return []string{extractor(r, name)}
		})
	}
}
