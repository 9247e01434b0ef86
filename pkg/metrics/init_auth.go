package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initAuthMetrics() {
	r.AuthFailuresTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadnet_auth_failures_total",
			Help: "Total number of authentication failures",
		},
		[]string{"reason"},
	)

	r.CustomersCreated = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "roadnet_customers_created_total",
			Help: "Total number of customers created",
		},
	)

	r.AuthCacheHitsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadnet_auth_cache_lookups_total",
			Help: "API key cache lookups by result",
		},
		[]string{"result"},
	)
}
