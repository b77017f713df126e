package handler

import (
	"encoding/json"
	"net/http"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string              `json:"error"`
	Kind    string              `json:"kind"`
	Details map[string][]string `json:"details,omitempty"`
}

// jsonResponse implements Response for JSON rendering
type jsonResponse struct {
	status  int
	headers http.Header
	body    any
}

func (j jsonResponse) Render(w http.ResponseWriter, r *http.Request) error {
	for k, vs := range j.headers {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

// JSONOption configures JSON response
type JSONOption func(*jsonResponse)

// WithJSONStatus sets custom HTTP status code
func WithJSONStatus(status int) JSONOption {
	return func(r *jsonResponse) {
		r.status = status
	}
}

// WithJSONHeader adds a response header.
func WithJSONHeader(key, value string) JSONOption {
	return func(r *jsonResponse) {
		if r.headers == nil {
			r.headers = make(http.Header)
		}
		r.headers.Add(key, value)
	}
}

// JSON renders v as the response body with status 200 unless overridden.
func JSON(v any, opts ...JSONOption) Response {
	r := &jsonResponse{status: http.StatusOK, body: v}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// JSONError renders a classified error as an ErrorBody.
func JSONError(info ErrorInfo, opts ...JSONOption) Response {
	r := &jsonResponse{
		status: info.StatusCode,
		body: ErrorBody{
			Error:   info.Message,
			Kind:    info.Kind,
			Details: info.Details,
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// errorResponse hands err to the configured ErrorHandler without writing
// anything itself.
type errorResponse struct{ err error }

func (e errorResponse) Render(http.ResponseWriter, *http.Request) error {
	return e.err
}

// Error returns a Response that fails with err, so the error is classified,
// logged and rendered by the ErrorHandler passed to Wrap.
func Error(err error) Response {
	if err == nil {
		err = ErrInternal
	}
	return errorResponse{err: err}
}
