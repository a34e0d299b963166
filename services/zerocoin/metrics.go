package zerocoin

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tessacoin/tessanode/util"
)

var (
	prometheusMints         prometheus.Counter
	prometheusSpends        prometheus.Counter
	prometheusInvalidSpends prometheus.Counter
	prometheusSpendVerify   prometheus.Histogram
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusMints = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "zerocoin",
			Name:      "mints",
			Help:      "Number of zerocoin mints connected",
		},
	)

	prometheusSpends = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "zerocoin",
			Name:      "spends",
			Help:      "Number of zerocoin spends connected",
		},
	)

	prometheusInvalidSpends = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "zerocoin",
			Name:      "invalid_spends",
			Help:      "Number of zerocoin spend proofs that failed to verify",
		},
	)

	prometheusSpendVerify = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tessa",
			Subsystem: "zerocoin",
			Name:      "spend_verify",
			Help:      "Histogram of zerocoin spend proof verification",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)
}
