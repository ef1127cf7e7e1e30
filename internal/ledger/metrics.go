package ledger

import "github.com/prometheus/client_golang/prometheus"

var (
	operationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "point_ledger_operations_total",
			Help: "Ledger operations by kind and outcome",
		},
		[]string{"operation", "outcome"},
	)
	lockWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "point_ledger_lock_wait_seconds",
			Help:    "Time spent waiting for a per-user lock",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(operationsTotal)
	prometheus.MustRegister(lockWaitSeconds)
}
