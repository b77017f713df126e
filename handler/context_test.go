package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/checkout/handler"
)

type ctxKey struct{}

func TestNewContext(t *testing.T) {
	t.Parallel()

	base, cancel := context.WithTimeout(context.WithValue(context.Background(), ctxKey{}, "v"), time.Minute)
	defer cancel()

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(base)
	ctx := handler.NewContext(w, r)

	assert.Same(t, r, ctx.Request())
	assert.Equal(t, w, ctx.ResponseWriter())
	assert.Equal(t, "v", ctx.Value(ctxKey{}))
	_, ok := ctx.Deadline()
	assert.True(t, ok)

	cancel()
	<-ctx.Done()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}
