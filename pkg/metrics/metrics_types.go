package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the application
type Registry struct {
	// HTTP Metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestsInFlight  prometheus.Gauge
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Reconciliation Metrics
	ReconciliationsTotal    *prometheus.CounterVec
	ReconciliationDuration  prometheus.Histogram
	ReconciledEdgesTotal    *prometheus.CounterVec
	ReconciliationConflicts prometheus.Counter

	// Query Metrics
	QueriesTotal       *prometheus.CounterVec
	QueryDuration      *prometheus.HistogramVec
	QueryEdgesReturned *prometheus.HistogramVec
	SlowQueries        *prometheus.CounterVec

	// Storage Metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Auth Metrics
	AuthFailuresTotal  *prometheus.CounterVec
	CustomersCreated   prometheus.Counter
	AuthCacheHitsTotal *prometheus.CounterVec

	// Notification Metrics
	EventsPublishedTotal   *prometheus.CounterVec
	SnapshotsArchivedTotal *prometheus.CounterVec
	SnapshotSizeBytes      prometheus.Histogram

	// System Metrics
	UptimeSeconds    prometheus.Gauge
	GoRoutines       prometheus.Gauge
	MemoryAllocBytes prometheus.Gauge
	MemorySysBytes   prometheus.Gauge

	registry  *prometheus.Registry
	startTime time.Time
	mu        sync.RWMutex
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry:  reg,
		startTime: time.Now(),
	}

	// Initialize all metrics
	r.initHTTPMetrics()
	r.initReconcileMetrics()
	r.initQueryMetrics()
	r.initStorageMetrics()
	r.initAuthMetrics()
	r.initNotifyMetrics()
	r.initSystemMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
