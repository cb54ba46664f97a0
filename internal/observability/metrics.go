// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Deposit metrics
	DepositsDetected  prometheus.Counter
	DepositsUnmatched prometheus.Counter

	// Buy metrics
	BuysExecuted    *prometheus.CounterVec
	BuyCycleLatency prometheus.Histogram
	LamportsSpent   prometheus.Counter
	FeesCollected   prometheus.Counter

	// Campaign metrics
	CampaignsActivated prometheus.Counter
	CampaignsCompleted prometheus.Counter
	CampaignsCancelled prometheus.Counter
	DueCampaigns       prometheus.Gauge

	// Sweep metrics
	WalletsSwept  prometheus.Counter
	LamportsSwept prometheus.Counter

	// Health metrics
	LastTick prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "dca_engine"
	}

	return &Metrics{
		DepositsDetected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposits",
			Name:      "detected_total",
			Help:      "Total number of deposits detected and matched",
		}),
		DepositsUnmatched: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deposits",
			Name:      "unmatched_total",
			Help:      "Total number of shared-wallet deposits that matched no campaign",
		}),

		BuysExecuted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buys",
			Name:      "executed_total",
			Help:      "Total number of buy cycles by outcome",
		}, []string{"outcome"}),
		BuyCycleLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "buys",
			Name:      "cycle_latency_seconds",
			Help:      "Buy cycle duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
		}),
		LamportsSpent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buys",
			Name:      "lamports_spent_total",
			Help:      "Total lamports spent on swaps",
		}),
		FeesCollected: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "buys",
			Name:      "fee_lamports_total",
			Help:      "Total protocol fee lamports collected",
		}),

		CampaignsActivated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "campaigns",
			Name:      "activated_total",
			Help:      "Total number of campaigns activated by a deposit",
		}),
		CampaignsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "campaigns",
			Name:      "completed_total",
			Help:      "Total number of campaigns completed",
		}),
		CampaignsCancelled: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "campaigns",
			Name:      "cancelled_total",
			Help:      "Total number of campaigns cancelled",
		}),
		DueCampaigns: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "campaigns",
			Name:      "due",
			Help:      "Number of campaigns due at the last scheduler tick",
		}),

		WalletsSwept: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "wallets_swept_total",
			Help:      "Total number of deposit wallets dust-swept",
		}),
		LamportsSwept: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "lamports_swept_total",
			Help:      "Total lamports reclaimed by the dust sweeper",
		}),

		LastTick: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_tick_timestamp",
			Help:      "Unix timestamp of the last scheduler tick",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
