// Package metrics exposes Prometheus metrics and health endpoints.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the tracker.
var (
	PollCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nof1_poll_cycles_total",
		Help: "Completed poll cycles per agent by outcome.",
	}, []string{"agent", "outcome"})

	SignalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nof1_signals_total",
		Help: "Detected signals by agent and type.",
	}, []string{"agent", "type"})

	PlansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nof1_plans_total",
		Help: "Trading plans built per agent by kind.",
	}, []string{"agent", "kind"})

	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nof1_orders_total",
		Help: "Primary orders by symbol, side and status.",
	}, []string{"symbol", "side", "status"})

	ProtectiveLegFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nof1_protective_leg_failures_total",
		Help: "Protective leg submissions that failed, by leg.",
	}, []string{"symbol", "leg"})

	MarginRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nof1_margin_rejections_total",
		Help: "Plans rejected by the margin check.",
	})

	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nof1_errors_total",
		Help: "Errors by type.",
	}, []string{"type"})

	GatewayConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nof1_gateway_connected",
		Help: "1 if the exchange gateway responded to the last ping.",
	})

	HeartbeatTimestamp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nof1_heartbeat_timestamp_seconds",
		Help: "Unix timestamp of the last completed poll cycle.",
	})

	CycleLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nof1_cycle_duration_seconds",
		Help:    "End-to-end poll cycle latency.",
		Buckets: prometheus.DefBuckets,
	})

	OrderLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nof1_order_duration_seconds",
		Help:    "Order submission latency.",
		Buckets: prometheus.DefBuckets,
	})

	BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nof1_build_info",
		Help: "Build information.",
	}, []string{"version", "commit", "build_time"})
)

// SetBuildInfo records build metadata.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
