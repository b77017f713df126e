package handler

import (
	"errors"
	"log/slog"
	"maps"
	"net/http"

	"github.com/dmitrymomot/checkout/pkg/binder"
	"github.com/dmitrymomot/checkout/pkg/logger"
	"github.com/dmitrymomot/checkout/pkg/requestid"
)

// ErrorInfo contains classified error information
type ErrorInfo struct {
	StatusCode int
	Kind       string
	Message    string
	Details    map[string][]string
	LogLevel   slog.Level
}

// Classifier maps an error onto ErrorInfo. It reports false for errors it
// does not recognize so the next classifier can try.
type Classifier func(err error) (ErrorInfo, bool)

func isClientError(statusCode int) bool {
	return statusCode >= http.StatusBadRequest && statusCode < http.StatusInternalServerError
}

// determineLogLevel maps HTTP status codes to appropriate log levels
func determineLogLevel(statusCode int) slog.Level {
	if isClientError(statusCode) {
		return slog.LevelWarn
	}
	return slog.LevelError
}

// Classify runs classifiers in order and falls back to the framework's own
// errors. Anything unrecognized is a 500 with a generic message.
func Classify(err error, classifiers ...Classifier) ErrorInfo {
	for _, c := range classifiers {
		if info, ok := c(err); ok {
			return withDefaults(info)
		}
	}

	info := ErrorInfo{
		StatusCode: http.StatusInternalServerError,
		Kind:       ErrInternal.Key,
		Message:    "an error occurred processing your request",
	}

	var validationErr ValidationError
	var httpErr HTTPError
	switch {
	case errors.As(err, &validationErr):
		info.StatusCode = http.StatusUnprocessableEntity
		info.Kind = "validation_error"
		info.Message = validationErr.Error()
		if len(validationErr) > 0 {
			info.Details = make(map[string][]string, len(validationErr))
			maps.Copy(info.Details, validationErr)
		}
	case errors.As(err, &httpErr):
		info.StatusCode = httpErr.Code
		info.Kind = httpErr.Key
		info.Message = http.StatusText(httpErr.Code)
	case errors.Is(err, binder.ErrUnsupportedMediaType), errors.Is(err, binder.ErrMissingContentType):
		info.StatusCode = http.StatusUnsupportedMediaType
		info.Kind = ErrUnsupportedMediaType.Key
		info.Message = err.Error()
	case errors.Is(err, binder.ErrFailedToParseJSON),
		errors.Is(err, binder.ErrInvalidPath),
		errors.Is(err, binder.ErrInvalidHeader):
		info.StatusCode = http.StatusBadRequest
		info.Kind = ErrBadRequest.Key
		info.Message = err.Error()
	}
	return withDefaults(info)
}

func withDefaults(info ErrorInfo) ErrorInfo {
	if info.StatusCode == 0 {
		info.StatusCode = http.StatusInternalServerError
	}
	if info.Message == "" {
		info.Message = http.StatusText(info.StatusCode)
	}
	if info.LogLevel == 0 {
		info.LogLevel = determineLogLevel(info.StatusCode)
	}
	return info
}

// NewErrorHandler creates an error handler that classifies the error,
// logs it with the request id and renders it as JSON.
// Configure this once in main.go and pass to all services.
func NewErrorHandler(log *slog.Logger, classifiers ...Classifier) ErrorHandler[Context] {
	if log == nil {
		log = slog.Default()
	}

	return func(ctx Context, err error) {
		r := ctx.Request()
		info := Classify(err, classifiers...)
		requestID := requestid.FromContext(r.Context())

		log.LogAttrs(r.Context(), info.LogLevel, "request error",
			logger.RequestID(requestID),
			logger.Error(err),
			slog.Int("status_code", info.StatusCode),
			slog.String("kind", info.Kind),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Component("error_handler"),
		)

		if renderErr := JSONError(info).Render(ctx.ResponseWriter(), r); renderErr != nil {
			log.LogAttrs(r.Context(), slog.LevelError, "failed to render error response",
				logger.RequestID(requestID),
				logger.Error(renderErr),
			)
		}
	}
}
