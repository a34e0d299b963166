package validator

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tessacoin/tessanode/util"
)

var (
	prometheusInvalidScripts prometheus.Counter
	prometheusScriptCheck    prometheus.Histogram
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusInvalidScripts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "validator",
			Name:      "invalid_scripts",
			Help:      "Number of script checks that failed",
		},
	)

	prometheusScriptCheck = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tessa",
			Subsystem: "validator",
			Name:      "script_check",
			Help:      "Histogram of single input script verification",
			Buckets:   util.MetricsBucketsMicroSeconds,
		},
	)
}
