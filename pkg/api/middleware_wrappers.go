package api

import (
	"net/http"

	"github.com/dd0wney/roadnet/pkg/api/middleware"
)

// panicRecoveryMiddleware recovers from panics in HTTP handlers
func (s *Server) panicRecoveryMiddleware(next http.Handler) http.Handler {
	return middleware.PanicRecovery(s.logger)(next)
}

// loggingMiddleware logs HTTP requests with timing information
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return middleware.Logging(s.logger)(next)
}

// metricsMiddleware records request metrics labelled by route pattern
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	if s.metricsRegistry == nil {
		return next
	}
	return middleware.Metrics(s.metricsRegistry, s.routeOf)(next)
}

// bodySizeLimitMiddleware limits the size of incoming request bodies
func (s *Server) bodySizeLimitMiddleware(next http.Handler, maxBytes int64) http.Handler {
	return middleware.BodySizeLimit(maxBytes)(next)
}

// requestIDMiddleware adds a unique request ID to each request
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return middleware.RequestID()(next)
}

// routeOf returns the mux pattern that serves r. The pattern set by ServeMux
// is not visible to outer middleware, so it is looked up again.
func (s *Server) routeOf(r *http.Request) string {
	_, pattern := s.mux.Handler(r)
	return pattern
}
