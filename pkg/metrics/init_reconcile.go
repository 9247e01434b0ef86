package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initReconcileMetrics() {
	r.ReconciliationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadnet_reconciliations_total",
			Help: "Total number of network version reconciliations",
		},
		[]string{"status"},
	)

	r.ReconciliationDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roadnet_reconciliation_duration_seconds",
			Help:    "Reconciliation duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0, 30.0},
		},
	)

	r.ReconciledEdgesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadnet_reconciled_edges_total",
			Help: "Edges touched by reconciliation, by outcome",
		},
		[]string{"outcome"},
	)

	r.ReconciliationConflicts = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "roadnet_reconciliation_conflicts_total",
			Help: "Reconciliations aborted because the network lock was busy",
		},
	)
}
