// Package metrics exposes Prometheus counters/gauges for the dispatcher,
// reconciler, and trade-event listener.
//
// Exposed series:
//   - core_orders_submitted_total{reason}  — orders sent to the broker
//   - core_orders_filled_total{reason}     — fills observed by the reconciler
//   - core_orders_frozen_total{cause}      — rows frozen by a fatal error
//   - core_reconcile_transitions_total{status} — reconciler transitions applied
//   - core_loop_tick_seconds{loop}         — per-loop tick latency
//   - core_loop_heartbeat_timestamp{loop}  — unix time of the loop's last completed tick
//
// Registered in init() and served at /metrics by the HTTP handler started
// from cmd/trademanager.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "core_orders_submitted_total",
			Help: "Orders sent to the broker, by reason.",
		},
		[]string{"reason"},
	)

	OrdersFilled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "core_orders_filled_total",
			Help: "Fills observed by the reconciler, by reason.",
		},
		[]string{"reason"},
	)

	OrdersFrozen = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "core_orders_frozen_total",
			Help: "Rows frozen after a fatal broker error, by cause.",
		},
		[]string{"cause"},
	)

	ReconcileTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "core_reconcile_transitions_total",
			Help: "Reconciler transitions applied, by resulting order status.",
		},
		[]string{"status"},
	)

	LoopTickSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "core_loop_tick_seconds",
			Help:    "Per-tick latency of the dispatch/reconcile loops.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"loop"},
	)

	LoopHeartbeat = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "core_loop_heartbeat_timestamp",
			Help: "Unix timestamp of the loop's last completed tick.",
		},
		[]string{"loop"},
	)
)

func init() {
	prometheus.MustRegister(OrdersSubmitted, OrdersFilled, OrdersFrozen)
	prometheus.MustRegister(ReconcileTransitions)
	prometheus.MustRegister(LoopTickSeconds, LoopHeartbeat)
}
