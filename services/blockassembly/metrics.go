package blockassembly

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tessacoin/tessanode/util"
)

var (
	prometheusBlockAssemblerTemplates        prometheus.Counter
	prometheusBlockAssemblerTemplateDuration prometheus.Histogram
	prometheusBlockAssemblerTransactions     prometheus.Gauge
)

var (
	prometheusMetricsInitOnce sync.Once
)

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusBlockAssemblerTemplates = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "blockassembly",
			Name:      "templates",
			Help:      "Number of block templates built",
		},
	)

	prometheusBlockAssemblerTemplateDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tessa",
			Subsystem: "blockassembly",
			Name:      "template_duration",
			Help:      "Histogram of block template construction",
			Buckets:   util.MetricsBucketsMilliSeconds,
		},
	)

	prometheusBlockAssemblerTransactions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tessa",
			Subsystem: "blockassembly",
			Name:      "transactions",
			Help:      "Number of non-coinbase transactions in the last template",
		},
	)
}
