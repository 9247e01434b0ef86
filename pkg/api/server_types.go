package api

import (
	"net/http"
	"time"

	"github.com/dd0wney/roadnet/pkg/auth"
	"github.com/dd0wney/roadnet/pkg/graphql"
	"github.com/dd0wney/roadnet/pkg/health"
	"github.com/dd0wney/roadnet/pkg/logging"
	"github.com/dd0wney/roadnet/pkg/metrics"
	"github.com/dd0wney/roadnet/pkg/service"
)

// DefaultMaxUploadBytes bounds an upload request including multipart framing.
const DefaultMaxUploadBytes = 256 << 20

// Server represents the HTTP API server
type Server struct {
	service         *service.Service
	authenticator   *auth.Authenticator
	graphqlHandler  *graphql.GraphQLHandler
	healthChecker   *health.HealthChecker
	metricsRegistry *metrics.Registry
	logger          logging.Logger
	mux             *http.ServeMux
	maxUploadBytes  int64
	startTime       time.Time
	version         string
}

// Options holds the optional parts of a Server.
type Options struct {
	Health         *health.HealthChecker
	Metrics        *metrics.Registry
	Logger         logging.Logger
	GraphQL        *graphql.GraphQLHandler
	MaxUploadBytes int64
	Version        string
}
