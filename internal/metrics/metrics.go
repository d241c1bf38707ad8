// Package metrics exports queue, storage, and retention telemetry via
// Prometheus, grounded on the client_golang wiring used by the ASR/media
// control-plane repos in this dependency pack (e.g. tr-engine). This is
// additive instrumentation over the telemetry types already returned by
// internal/queue, internal/storage, and internal/retention — it never
// changes those packages' return values or semantics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/loquilex/sessiond/internal/queue"
	"github.com/loquilex/sessiond/internal/retention"
	"github.com/loquilex/sessiond/internal/storage"
)

// Registry bundles every metric this control plane exports. Construct
// once at program startup and pass by reference to the components that
// observe telemetry.
type Registry struct {
	QueueSize        *prometheus.GaugeVec
	QueueDropsTotal  *prometheus.CounterVec
	StorageCommits   *prometheus.GaugeVec
	StorageDropsTotal *prometheus.CounterVec
	RetentionDeleted prometheus.Counter
	RetentionBytes   prometheus.Gauge
	ActiveSessions   prometheus.Gauge
	CUDASlotsInUse   prometheus.Gauge
}

// NewRegistry creates and registers every metric against reg (pass
// prometheus.NewRegistry() in tests to avoid global-registry collisions,
// or prometheus.DefaultRegisterer in production).
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		QueueSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sessiond",
			Subsystem: "queue",
			Name:      "size",
			Help:      "Current number of buffered items in a named bounded queue.",
		}, []string{"queue"}),
		QueueDropsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessiond",
			Subsystem: "queue",
			Name:      "drops_total",
			Help:      "Total items dropped from a bounded queue, by drop reason.",
		}, []string{"queue", "reason"}),
		StorageCommits: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sessiond",
			Subsystem: "storage",
			Name:      "commits",
			Help:      "Current number of retained commits per session storage.",
		}, []string{"session"}),
		StorageDropsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sessiond",
			Subsystem: "storage",
			Name:      "commits_dropped_total",
			Help:      "Total commits evicted from session storage by cap enforcement.",
		}, []string{"session"}),
		RetentionDeleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sessiond",
			Subsystem: "retention",
			Name:      "files_deleted_total",
			Help:      "Total files deleted by retention sweeps.",
		}),
		RetentionBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sessiond",
			Subsystem: "retention",
			Name:      "remaining_bytes",
			Help:      "Remaining bytes under the output root after the last sweep.",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sessiond",
			Name:      "active_sessions",
			Help:      "Current number of live sessions.",
		}),
		CUDASlotsInUse: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "sessiond",
			Name:      "cuda_slots_in_use",
			Help:      "Current number of sessions holding a CUDA admission slot.",
		}),
	}
}

// ObserveQueue records a bounded queue's telemetry snapshot.
func (r *Registry) ObserveQueue(t queue.Telemetry) {
	r.QueueSize.WithLabelValues(t.Name).Set(float64(t.Size))
	if t.RecentDrops > 0 {
		reason := string(t.LastDropReason)
		if reason == "" {
			reason = "unknown"
		}
		r.QueueDropsTotal.WithLabelValues(t.Name, reason).Add(float64(t.RecentDrops))
	}
}

// ObserveStorage sets the retained-commit gauge for sessionID from stats.
// It does not touch StorageDropsTotal.
func (r *Registry) ObserveStorage(sessionID string, stats storage.Stats) {
	r.StorageCommits.WithLabelValues(sessionID).Set(float64(stats.TotalCommits))
}

// ObserveRetention records a retention sweep's result.
func (r *Registry) ObserveRetention(result retention.Result) {
	r.RetentionDeleted.Add(float64(result.DeletedCount))
	r.RetentionBytes.Set(float64(result.RemainingBytes))
}
