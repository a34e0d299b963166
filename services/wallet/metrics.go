package wallet

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tessacoin/tessanode/model"
)

var (
	prometheusWalletSent         prometheus.Counter
	prometheusWalletMinted       prometheus.Counter
	prometheusWalletBalance      *prometheus.GaugeVec
	prometheusWalletRescanHeight prometheus.Gauge
)

var prometheusMetricsInitOnce sync.Once

func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(_initPrometheusMetrics)
}

func _initPrometheusMetrics() {
	prometheusWalletSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "wallet",
			Name:      "sent",
			Help:      "Number of wallet transactions submitted",
		},
	)

	prometheusWalletMinted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "tessa",
			Subsystem: "wallet",
			Name:      "minted_coins",
			Help:      "Whole coins converted to zerocoins",
		},
	)

	prometheusWalletBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tessa",
			Subsystem: "wallet",
			Name:      "balance",
			Help:      "Wallet balance in coins by kind",
		},
		[]string{"kind"},
	)

	prometheusWalletRescanHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tessa",
			Subsystem: "wallet",
			Name:      "rescan_height",
			Help:      "Last height applied by a wallet rescan",
		},
	)
}

func (w *Wallet) updateBalanceMetrics() {
	b := w.Balance()

	for kind, v := range map[string]int64{
		"confirmed":   b.Confirmed,
		"unconfirmed": b.Unconfirmed,
		"immature":    b.Immature,
		"zerocoin":    b.Zerocoin,
	} {
		prometheusWalletBalance.WithLabelValues(kind).Set(float64(v) / float64(model.COIN))
	}
}
