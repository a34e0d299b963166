package mempool

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusTransactions prometheus.Gauge
	prometheusBytes        prometheus.Gauge
	prometheusOrphans      prometheus.Gauge
	prometheusAccepted     prometheus.Counter
	prometheusRejected     prometheus.Counter
	prometheusConflicts    prometheus.Counter
	prometheusEvicted      prometheus.Counter
	prometheusExpired      prometheus.Counter
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusTransactions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tessa",
			Subsystem: "mempool",
			Name:      "transactions",
			Help:      "Number of transactions in the mempool",
		},
	)

	prometheusBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tessa",
			Subsystem: "mempool",
			Name:      "bytes",
			Help:      "Serialized size of the mempool transactions",
		},
	)

	prometheusOrphans = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tessa",
			Subsystem: "mempool",
			Name:      "orphans",
			Help:      "Number of orphan transactions",
		},
	)

	prometheusAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "mempool",
			Name:      "accepted",
			Help:      "Number of transactions accepted",
		},
	)

	prometheusRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "mempool",
			Name:      "rejected",
			Help:      "Number of transactions rejected",
		},
	)

	prometheusConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "mempool",
			Name:      "conflicts_removed",
			Help:      "Number of transactions removed for conflicting with a block",
		},
	)

	prometheusEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "mempool",
			Name:      "evicted",
			Help:      "Number of transactions evicted by the size limit",
		},
	)

	prometheusExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "mempool",
			Name:      "expired",
			Help:      "Number of transactions expired",
		},
	)
}
