// Package api serves the road network HTTP API.
package api

import (
	"net/http"
	"time"

	"github.com/dd0wney/roadnet/pkg/auth"
	"github.com/dd0wney/roadnet/pkg/health"
	"github.com/dd0wney/roadnet/pkg/logging"
	"github.com/dd0wney/roadnet/pkg/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewServer creates a new API server
func NewServer(svc *service.Service, authenticator *auth.Authenticator, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	checker := opts.Health
	if checker == nil {
		checker = health.NewHealthChecker()
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	version := opts.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		service:         svc,
		authenticator:   authenticator,
		graphqlHandler:  opts.GraphQL,
		healthChecker:   checker,
		metricsRegistry: opts.Metrics,
		logger:          logger.With(logging.Component("api")),
		maxUploadBytes:  maxUpload,
		startTime:       time.Now(),
		version:         version,
	}
	s.mux = s.routes()
	return s
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Health, metrics and version
	mux.HandleFunc("GET /health", s.healthChecker.HTTPHandler())
	mux.HandleFunc("GET /health/live", s.healthChecker.LivenessHandler())
	mux.HandleFunc("GET /health/ready", s.healthChecker.ReadinessHandler())
	mux.HandleFunc("GET /version", s.handleVersion)
	if s.metricsRegistry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.metricsRegistry.GetPrometheusRegistry(), promhttp.HandlerOpts{}))
	}

	// Customers
	mux.HandleFunc("POST /api/customers", s.handleCreateCustomer)

	// Road networks
	mux.Handle("POST /api/road-networks",
		s.bodySizeLimitMiddleware(s.requireCustomer(s.handleUploadNetwork), s.maxUploadBytes))
	mux.Handle("PUT /api/road-networks/{name}",
		s.bodySizeLimitMiddleware(s.requireCustomer(s.handleUpdateNetwork), s.maxUploadBytes))
	mux.HandleFunc("GET /api/road-networks/{name}", s.requireCustomer(s.handleGetNetwork))
	mux.HandleFunc("GET /api/road-networks/{name}/versions", s.requireCustomer(s.handleListVersions))

	// GraphQL
	mux.HandleFunc("POST /graphql", s.requireCustomer(s.handleGraphQL))

	return mux
}

// Handler returns the routes wrapped in the middleware chain. The request ID
// is assigned first so every later layer can log it.
func (s *Server) Handler() http.Handler {
	var handler http.Handler = s.mux
	handler = s.panicRecoveryMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	handler = s.metricsMiddleware(handler)
	handler = s.requestIDMiddleware(handler)
	return handler
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, VersionInfoResponse{
		Version: s.version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	if s.graphqlHandler == nil {
		s.respondError(w, http.StatusServiceUnavailable, "GraphQL endpoint not available")
		return
	}
	s.graphqlHandler.ServeHTTP(w, r)
}
