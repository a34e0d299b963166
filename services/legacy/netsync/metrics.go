package netsync

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusPeers          prometheus.Gauge
	prometheusBlocksInFlight prometheus.Gauge
	prometheusBlocksReceived prometheus.Counter
	prometheusStalledPeers   prometheus.Counter
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusPeers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tessa",
			Subsystem: "netsync",
			Name:      "peers",
			Help:      "Number of peers known to the sync manager",
		},
	)

	prometheusBlocksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tessa",
			Subsystem: "netsync",
			Name:      "blocks_in_flight",
			Help:      "Number of blocks requested and not yet received",
		},
	)

	prometheusBlocksReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "netsync",
			Name:      "blocks_received",
			Help:      "Number of blocks received and accepted from peers",
		},
	)

	prometheusStalledPeers = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "netsync",
			Name:      "stalled_peers",
			Help:      "Number of peers disconnected for stalling block download",
		},
	)
}
