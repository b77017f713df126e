package binder

import "errors"

// Common binding errors
var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrFailedToParseJSON    = errors.New("failed to parse JSON request body")
	ErrInvalidPath          = errors.New("failed to parse path parameters")
	ErrInvalidHeader        = errors.New("failed to parse request headers")
	ErrMissingContentType   = errors.New("missing content type")

	// ErrBinderNotApplicable tells the handler to skip a binder for this request.
	ErrBinderNotApplicable = errors.New("binder not applicable")
)
