package blockchain

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tessacoin/tessanode/util"
)

var (
	prometheusChainHeight       prometheus.Gauge
	prometheusHeadersHeight     prometheus.Gauge
	prometheusConnectBlock      prometheus.Histogram
	prometheusDisconnectBlock   prometheus.Counter
	prometheusInvalidBlocks     prometheus.Counter
	prometheusReorgs            prometheus.Counter
	prometheusFlushes           prometheus.Counter
	prometheusCoinsCacheBytes   prometheus.Gauge
	prometheusProcessNewBlock   prometheus.Histogram
	prometheusBlockSize         prometheus.Histogram
	prometheusUnlinkedBlocks    prometheus.Gauge
	prometheusBlockTransactions prometheus.Counter
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusChainHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tessa",
			Subsystem: "chain",
			Name:      "height",
			Help:      "Height of the active chain tip",
		},
	)

	prometheusHeadersHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tessa",
			Subsystem: "chain",
			Name:      "headers_height",
			Help:      "Height of the best known header",
		},
	)

	prometheusConnectBlock = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tessa",
			Subsystem: "chain",
			Name:      "connect_block",
			Help:      "Histogram of block connection",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)

	prometheusDisconnectBlock = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "chain",
			Name:      "disconnect_block",
			Help:      "Number of blocks disconnected from the active chain",
		},
	)

	prometheusInvalidBlocks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "chain",
			Name:      "invalid_blocks",
			Help:      "Number of blocks marked invalid",
		},
	)

	prometheusReorgs = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "chain",
			Name:      "reorgs",
			Help:      "Number of reorganisations of the active chain",
		},
	)

	prometheusFlushes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "chain",
			Name:      "flushes",
			Help:      "Number of chain state flushes to disk",
		},
	)

	prometheusCoinsCacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tessa",
			Subsystem: "chain",
			Name:      "coins_cache_bytes",
			Help:      "Estimated memory usage of the coins cache",
		},
	)

	prometheusProcessNewBlock = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tessa",
			Subsystem: "chain",
			Name:      "process_new_block",
			Help:      "Histogram of ProcessNewBlock calls",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)

	prometheusBlockSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tessa",
			Subsystem: "chain",
			Name:      "block_size",
			Help:      "Size of accepted blocks",
			Buckets:   util.MetricsBucketsSize,
		},
	)

	prometheusUnlinkedBlocks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tessa",
			Subsystem: "chain",
			Name:      "unlinked_blocks",
			Help:      "Number of stored blocks waiting for a parent's data",
		},
	)

	prometheusBlockTransactions = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "chain",
			Name:      "block_transactions",
			Help:      "Number of transactions in connected blocks",
		},
	)
}
