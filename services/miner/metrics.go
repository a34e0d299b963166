package miner

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tessacoin/tessanode/util"
)

var (
	prometheusBlockMined       prometheus.Histogram
	prometheusBlocksGenerated  prometheus.Counter
	prometheusStakeAttempts    prometheus.Counter
	prometheusStakeKernels     prometheus.Counter
	prometheusStakeRejected    prometheus.Counter
	prometheusStakingWeight    prometheus.Gauge
	prometheusKernelSearchTime prometheus.Histogram
)

var (
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusBlockMined = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tessa",
			Subsystem: "miner",
			Name:      "block_mined",
			Help:      "Histogram of the time to solve a proof of work block",
			Buckets:   util.MetricsBucketsSeconds,
		},
	)

	prometheusBlocksGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "miner",
			Name:      "blocks_generated",
			Help:      "Number of proof of work blocks generated on demand",
		},
	)

	prometheusStakeAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "miner",
			Name:      "stake_attempts",
			Help:      "Number of staking slots searched for a kernel",
		},
	)

	prometheusStakeKernels = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "miner",
			Name:      "stake_kernels",
			Help:      "Number of kernels found",
		},
	)

	prometheusStakeRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "miner",
			Name:      "stake_rejected",
			Help:      "Number of staked blocks the chain refused",
		},
	)

	prometheusStakingWeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tessa",
			Subsystem: "miner",
			Name:      "staking_weight",
			Help:      "Value in coins of the outputs eligible to stake",
		},
	)

	prometheusKernelSearchTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tessa",
			Subsystem: "miner",
			Name:      "kernel_search",
			Help:      "Histogram of the duration of a staking slot",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)
}
