package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initNotifyMetrics() {
	r.EventsPublishedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadnet_version_events_published_total",
			Help: "Version change events published, by status",
		},
		[]string{"status"},
	)

	r.SnapshotsArchivedTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "roadnet_snapshots_archived_total",
			Help: "Network snapshots written to the archive, by status",
		},
		[]string{"status"},
	)

	r.SnapshotSizeBytes = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "roadnet_snapshot_size_bytes",
			Help:    "Compressed snapshot size in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
		},
	)
}
