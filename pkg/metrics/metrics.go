package metrics

import (
	"runtime"
	"strconv"
	"time"
)

// All Record methods are no-ops on a nil Registry, so components can run
// without metrics.

// RecordHTTPRequest records an HTTP request with its duration and size
func (r *Registry) RecordHTTPRequest(method, route string, status int, duration time.Duration, size int) {
	if r == nil {
		return
	}
	code := strconv.Itoa(status)
	r.HTTPRequestsTotal.WithLabelValues(method, route, code).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, route, code).Observe(duration.Seconds())
	r.HTTPResponseSizeBytes.WithLabelValues(method, route).Observe(float64(size))
}

// IncHTTPRequestsInFlight marks the start of a request.
func (r *Registry) IncHTTPRequestsInFlight() {
	if r == nil {
		return
	}
	r.HTTPRequestsInFlight.Inc()
}

// DecHTTPRequestsInFlight marks the end of a request.
func (r *Registry) DecHTTPRequestsInFlight() {
	if r == nil {
		return
	}
	r.HTTPRequestsInFlight.Dec()
}

// RecordReconciliation records one reconciliation run. status is "success",
// "rejected", "conflict" or "error".
func (r *Registry) RecordReconciliation(status string, duration time.Duration, reactivated, inserted, retired int) {
	if r == nil {
		return
	}
	r.ReconciliationsTotal.WithLabelValues(status).Inc()
	r.ReconciliationDuration.Observe(duration.Seconds())
	if status == "conflict" {
		r.ReconciliationConflicts.Inc()
	}
	r.ReconciledEdgesTotal.WithLabelValues("reactivated").Add(float64(reactivated))
	r.ReconciledEdgesTotal.WithLabelValues("inserted").Add(float64(inserted))
	r.ReconciledEdgesTotal.WithLabelValues("retired").Add(float64(retired))
}

// RecordQuery records a point-in-time query. mode is "current" or "instant".
func (r *Registry) RecordQuery(mode, status string, duration time.Duration, edgesReturned int) {
	if r == nil {
		return
	}
	r.QueriesTotal.WithLabelValues(mode, status).Inc()
	r.QueryDuration.WithLabelValues(mode).Observe(duration.Seconds())
	r.QueryEdgesReturned.WithLabelValues(mode).Observe(float64(edgesReturned))

	if duration > time.Second {
		r.SlowQueries.WithLabelValues(mode).Inc()
	}
}

// RecordStorageOperation records a storage transaction
func (r *Registry) RecordStorageOperation(operation, status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	r.StorageOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAuthFailure counts a rejected credential.
func (r *Registry) RecordAuthFailure(reason string) {
	if r == nil {
		return
	}
	r.AuthFailuresTotal.WithLabelValues(reason).Inc()
}

// RecordAuthCache counts an API key cache lookup.
func (r *Registry) RecordAuthCache(hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.AuthCacheHitsTotal.WithLabelValues(result).Inc()
}

// RecordCustomerCreated counts a new customer.
func (r *Registry) RecordCustomerCreated() {
	if r == nil {
		return
	}
	r.CustomersCreated.Inc()
}

// RecordEventPublished counts a version event publication attempt.
func (r *Registry) RecordEventPublished(err error) {
	if r == nil {
		return
	}
	r.EventsPublishedTotal.WithLabelValues(statusOf(err)).Inc()
}

// RecordSnapshotArchived counts an archive upload and its size.
func (r *Registry) RecordSnapshotArchived(size int, err error) {
	if r == nil {
		return
	}
	r.SnapshotsArchivedTotal.WithLabelValues(statusOf(err)).Inc()
	if err == nil {
		r.SnapshotSizeBytes.Observe(float64(size))
	}
}

// UpdateSystemMetrics refreshes uptime, goroutine and memory gauges
func (r *Registry) UpdateSystemMetrics() {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	r.UptimeSeconds.Set(time.Since(r.startTime).Seconds())
	r.GoRoutines.Set(float64(runtime.NumGoroutine()))
	r.MemoryAllocBytes.Set(float64(m.Alloc))
	r.MemorySysBytes.Set(float64(m.Sys))
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
