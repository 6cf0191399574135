// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "inventory"

var (
	// ReservationOutcomes 按操作和结果码统计预占请求
	ReservationOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservation_outcomes_total",
		Help:      "Reservation operations partitioned by operation and result code.",
	}, []string{"operation", "code"})

	// VersionConflicts 乐观锁冲突次数（每次重试计一次）
	VersionConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ledger_version_conflicts_total",
		Help:      "Optimistic version conflicts observed by the stock ledger.",
	})

	ReconcilerSweeps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciler_sweeps_total",
		Help:      "Reconciler sweeps partitioned by outcome.",
	}, []string{"outcome"})

	ReconcilerReleased = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconciler_released_total",
		Help:      "Stale reservations failed and released by the reconciler.",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reconciler_sweep_duration_seconds",
		Help:      "Duration of a reconciler sweep.",
		Buckets:   prometheus.DefBuckets,
	})

	EventPublishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_publish_failures_total",
		Help:      "Reservation events that could not be published.",
	})
)
