package handler

import (
	"context"
	"net/http"
)

// Context is the request-scoped context handed to every HandlerFunc.
// It is the request's context.Context plus access to the raw request and writer.
type Context interface {
	context.Context
	Request() *http.Request
	ResponseWriter() http.ResponseWriter
}

// NewContext builds the default Context for a request.
func NewContext(w http.ResponseWriter, r *http.Request) Context {
	return &requestContext{Context: r.Context(), w: w, r: r}
}

type requestContext struct {
	context.Context
	w http.ResponseWriter
	r *http.Request
}

func (c *requestContext) Request() *http.Request              { return c.r }
func (c *requestContext) ResponseWriter() http.ResponseWriter { return c.w }
