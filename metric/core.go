package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the core service metrics
type Metrics struct {
	// Collaboration metrics
	ActiveSessions  prometheus.Gauge
	LocksAcquired   prometheus.Counter
	LockConflicts   prometheus.Counter
	LeaseExpiries   prometheus.Counter
	EventsBroadcast *prometheus.CounterVec

	// Store metrics
	FlowMutations      *prometheus.CounterVec
	VersionConflicts   prometheus.Counter
	ReferenceDerives   prometheus.Counter
	MutationDuration   *prometheus.HistogramVec
	StorageErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all core metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "fabula",
				Subsystem: "collab",
				Name:      "active_sessions",
				Help:      "Number of currently connected editing sessions",
			},
		),

		LocksAcquired: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fabula",
				Subsystem: "collab",
				Name:      "locks_acquired_total",
				Help:      "Total number of node edit leases granted",
			},
		),

		LockConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fabula",
				Subsystem: "collab",
				Name:      "lock_conflicts_total",
				Help:      "Total number of lease acquisitions rejected because another session held the node",
			},
		),

		LeaseExpiries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fabula",
				Subsystem: "collab",
				Name:      "lease_expiries_total",
				Help:      "Total number of leases reclaimed by the expiry sweep",
			},
		),

		EventsBroadcast: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fabula",
				Subsystem: "collab",
				Name:      "events_broadcast_total",
				Help:      "Total number of events broadcast to flow channels",
			},
			[]string{"type"},
		),

		FlowMutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fabula",
				Subsystem: "store",
				Name:      "flow_mutations_total",
				Help:      "Total number of committed flow mutations",
			},
			[]string{"operation"},
		),

		VersionConflicts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fabula",
				Subsystem: "store",
				Name:      "version_conflicts_total",
				Help:      "Total number of optimistic concurrency conflicts on flow writes",
			},
		),

		ReferenceDerives: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "fabula",
				Subsystem: "refindex",
				Name:      "derives_total",
				Help:      "Total number of variable reference recomputations from node payloads",
			},
		),

		MutationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "fabula",
				Subsystem: "store",
				Name:      "mutation_duration_seconds",
				Help:      "Flow mutation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		StorageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "fabula",
				Subsystem: "store",
				Name:      "errors_total",
				Help:      "Total number of storage backend errors by class",
			},
			[]string{"class"},
		),
	}
}

// collectors returns every core collector for registration
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.ActiveSessions,
		m.LocksAcquired,
		m.LockConflicts,
		m.LeaseExpiries,
		m.EventsBroadcast,
		m.FlowMutations,
		m.VersionConflicts,
		m.ReferenceDerives,
		m.MutationDuration,
		m.StorageErrorsTotal,
	}
}
