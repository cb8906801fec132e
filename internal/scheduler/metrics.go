package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Failure stages reported in the failures metric and logs.
const (
	stageLoad         = "load"
	stageDecrypt      = "decrypt"
	stageLockStatus   = "lock_status"
	stagePassword     = "password"
	stageMarkPending  = "mark_pending"
	stageUnlockCheck  = "unlock_check"
	stageNotify       = "notify"
	stageMarkNotified = "mark_notified"
)

type metrics struct {
	ticks        prometheus.Counter
	scanned      prometheus.Counter
	transitions  prometheus.Counter
	notified     prometheus.Counter
	failures     *prometheus.CounterVec
	tickDuration prometheus.Histogram
}

// newMetrics registers the reconciler metrics with reg. A nil reg keeps
// them unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "capsule_reconcile_ticks_total",
			Help: "number of reconciliation ticks run",
		}),
		scanned: factory.NewCounter(prometheus.CounterOpts{
			Name: "capsule_reconcile_scanned_total",
			Help: "number of locked capsules examined",
		}),
		transitions: factory.NewCounter(prometheus.CounterOpts{
			Name: "capsule_reconcile_transitions_total",
			Help: "number of capsules moved from locked to pending",
		}),
		notified: factory.NewCounter(prometheus.CounterOpts{
			Name: "capsule_reconcile_notified_total",
			Help: "number of beneficiaries notified",
		}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "capsule_reconcile_failures_total",
			Help: "number of per-capsule failures by stage",
		}, []string{"stage"}),
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "capsule_reconcile_tick_duration_seconds",
			Help:    "duration of one reconciliation tick",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
		}),
	}
}
