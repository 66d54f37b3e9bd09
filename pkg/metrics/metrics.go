// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OrdersSubmitted counts submitted orders by side and result
// (accepted/rejected).
var OrdersSubmitted = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dire_orders_submitted_total",
		Help: "Total number of orders submitted to the engine",
	},
	[]string{"side", "result"},
)

// TradesMatched counts trades produced by the matching kernel.
var TradesMatched = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "dire_trades_matched_total",
		Help: "Total number of trades produced by matching",
	},
)

// OrdersCanceled counts successful cancel requests.
var OrdersCanceled = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "dire_orders_canceled_total",
		Help: "Total number of resting orders removed by cancel requests",
	},
)

// SubmitLatency records the latency distribution of SubmitOrder calls.
var SubmitLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "dire_submit_latency_seconds",
		Help:    "Latency in seconds of individual order submissions",
		Buckets: prometheus.DefBuckets,
	},
)

// RestingOrders tracks the number of orders currently resting across all
// books.
var RestingOrders = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "dire_resting_orders",
		Help: "Number of orders currently resting across all books",
	},
)

func init() {
	prometheus.MustRegister(OrdersSubmitted, TradesMatched, OrdersCanceled, SubmitLatency, RestingOrders)
}
