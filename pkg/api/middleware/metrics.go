package middleware

import (
	"net/http"
	"time"
)

// MetricsRecorder is an interface for recording HTTP metrics
type MetricsRecorder interface {
	RecordHTTPRequest(method, route string, status int, duration time.Duration, size int)
	IncHTTPRequestsInFlight()
	DecHTTPRequestsInFlight()
}

// RouteFunc maps a request to a low-cardinality route label, typically the
// ServeMux pattern.
type RouteFunc func(*http.Request) string

// Metrics creates middleware that tracks HTTP request metrics.
func Metrics(recorder MetricsRecorder, route RouteFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if recorder == nil {
				next.ServeHTTP(w, r)
				return
			}

			label := "unmatched"
			if route != nil {
				if p := route(r); p != "" {
					label = p
				}
			}

			start := time.Now()
			recorder.IncHTTPRequestsInFlight()
			defer recorder.DecHTTPRequestsInFlight()

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			recorder.RecordHTTPRequest(r.Method, label, rec.statusCode, time.Since(start), rec.bytesWritten)
		})
	}
}
