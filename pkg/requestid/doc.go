// Package requestid tags every HTTP request with a correlation id.
//
// Middleware reuses a well-formed X-Request-ID from the caller (a load
// balancer or the processor's webhook sender) or generates a UUID, stores it
// in the request context and echoes it in the response header. Error
// responses and logs carry the same id:
//
//	log := logger.New(logger.WithContextExtractors(requestid.LoggerExtractor()))
//	r.Use(requestid.Middleware)
package requestid
