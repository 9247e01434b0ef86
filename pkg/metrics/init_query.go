package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initQueryMetrics() {
	r.QueriesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadnet_queries_total",
			Help: "Total number of point-in-time queries executed",
		},
		[]string{"mode", "status"},
	)

	r.QueryDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roadnet_query_duration_seconds",
			Help:    "Query execution duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		},
		[]string{"mode"},
	)

	r.QueryEdgesReturned = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "roadnet_query_edges_returned",
			Help:    "Number of edges returned per query",
			Buckets: []float64{10, 100, 1000, 10000, 100000},
		},
		[]string{"mode"},
	)

	r.SlowQueries = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadnet_slow_queries_total",
			Help: "Total number of slow queries (>1s)",
		},
		[]string{"mode"},
	)
}
