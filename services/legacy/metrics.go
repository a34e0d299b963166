package legacy

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusInboundPeers   prometheus.Gauge
	prometheusOutboundPeers  prometheus.Gauge
	prometheusBannedSubnets  prometheus.Gauge
	prometheusPeersBanned    prometheus.Counter
	prometheusBytesReceived  prometheus.Counter
	prometheusBytesSent      prometheus.Counter
	prometheusMessages       *prometheus.CounterVec
	prometheusSporksAccepted prometheus.Counter
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusInboundPeers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tessa",
			Subsystem: "p2p",
			Name:      "inbound_peers",
			Help:      "Number of connected inbound peers",
		},
	)

	prometheusOutboundPeers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tessa",
			Subsystem: "p2p",
			Name:      "outbound_peers",
			Help:      "Number of connected outbound peers, persistent ones included",
		},
	)

	prometheusBannedSubnets = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tessa",
			Subsystem: "p2p",
			Name:      "banned_subnets",
			Help:      "Number of entries in the banlist",
		},
	)

	prometheusPeersBanned = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "p2p",
			Name:      "peers_banned",
			Help:      "Number of peers banned for misbehaviour",
		},
	)

	prometheusBytesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "p2p",
			Name:      "bytes_received",
			Help:      "Bytes received from all peers",
		},
	)

	prometheusBytesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "p2p",
			Name:      "bytes_sent",
			Help:      "Bytes sent to all peers",
		},
	)

	prometheusMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "p2p",
			Name:      "messages_received",
			Help:      "Messages received per command",
		},
		[]string{"command"},
	)

	prometheusSporksAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "p2p",
			Name:      "sporks_accepted",
			Help:      "Number of valid sporks accepted",
		},
	)
}
