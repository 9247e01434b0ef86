// Package middleware holds the HTTP middleware of the roadnet API server.
//
// Every middleware has the shape func(http.Handler) http.Handler so they
// chain by nesting:
//
//	handler := middleware.PanicRecovery(logger)(mux)
//	handler = middleware.Logging(logger)(handler)
//	handler = middleware.Metrics(registry, route)(handler)
//	handler = middleware.RequestID()(handler)
//
// RequestID must be outermost so that every other middleware sees the id.
package middleware
