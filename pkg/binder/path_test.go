package binder_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/checkout/pkg/binder"
)

func TestPath(t *testing.T) {
	t.Parallel()

	type request struct {
		ID       string `path:"id"`
		Page     uint   `path:"page"`
		Internal string `path:"-"`
		Body     string `json:"body"`
	}

	t.Run("custom extractor", func(t *testing.T) {
		t.Parallel()
		params := map[string]string{"id": "ci_123", "page": "2", "body": "ignored", "-": "ignored"}
		extract := func(_ *http.Request, name string) string { return params[name] }

		var got request
		require.NoError(t, binder.Path(extract)(httptest.NewRequest(http.MethodGet, "/", nil), &got))
		assert.Equal(t, request{ID: "ci_123", Page: 2}, got)
	})

	t.Run("chi router", func(t *testing.T) {
		t.Parallel()
		var got request
		r := chi.NewRouter()
		r.Get("/checkout-intents/{id}", func(w http.ResponseWriter, req *http.Request) {
			require.NoError(t, binder.Path(chi.URLParam)(req, &got))
		})
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/checkout-intents/ci_42", nil))
		assert.Equal(t, "ci_42", got.ID)
	})

	t.Run("invalid number", func(t *testing.T) {
		t.Parallel()
		extract := func(_ *http.Request, name string) string {
			if name == "page" {
				return "two"
			}
			return ""
		}
		var got request
		err := binder.Path(extract)(httptest.NewRequest(http.MethodGet, "/", nil), &got)
		assert.ErrorIs(t, err, binder.ErrInvalidPath)
	})

	t.Run("nil extractor", func(t *testing.T) {
		t.Parallel()
		var got request
		assert.ErrorIs(t, binder.Path(nil)(httptest.NewRequest(http.MethodGet, "/", nil), &got), binder.ErrInvalidPath)
	})

	t.Run("non-pointer target", func(t *testing.T) {
		t.Parallel()
		extract := func(*http.Request, string) string { return "" }
		assert.ErrorIs(t, binder.Path(extract)(httptest.NewRequest(http.MethodGet, "/", nil), request{}), binder.ErrInvalidPath)
	})
}
