// Package metrics provides Prometheus instrumentation for the edge node.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OutboxDepth tracks items waiting for delivery.
	OutboxDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "appetite_edge",
			Name:      "outbox_depth",
			Help:      "Number of writes waiting in the outbox.",
		},
	)

	// OutboxDeliveries counts per-item delivery attempts by result.
	OutboxDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appetite_edge",
			Name:      "outbox_deliveries_total",
			Help:      "Outbox delivery attempts by result (sent, offline, unauthorized, failed).",
		},
		[]string{"result"},
	)

	// OutboxFlushes counts flush passes by outcome.
	OutboxFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appetite_edge",
			Name:      "outbox_flushes_total",
			Help:      "Outbox flush passes by outcome (completed, paused, busy).",
		},
		[]string{"outcome"},
	)

	// OutboxDropped counts items discarded by coalescing, capacity or retention.
	OutboxDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appetite_edge",
			Name:      "outbox_dropped_total",
			Help:      "Outbox items discarded by reason (superseded, capacity, expired).",
		},
		[]string{"reason"},
	)

	// KitchenTickets counts fired tickets by routing outcome.
	KitchenTickets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appetite_edge",
			Name:      "kds_tickets_total",
			Help:      "Fired kitchen tickets by outcome (routed, unrouted).",
		},
		[]string{"outcome"},
	)

	// KitchenStationsDone counts station rows reaching DONE by trigger.
	KitchenStationsDone = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appetite_edge",
			Name:      "kds_station_done_total",
			Help:      "Station rows completed by trigger (bump, items, void, close).",
		},
		[]string{"station", "trigger"},
	)

	// RemoteLegs counts the remote leg outcome of coordinator operations.
	RemoteLegs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "appetite_edge",
			Name:      "remote_legs_total",
			Help:      "Coordinator remote leg outcomes by operation and result.",
		},
		[]string{"operation", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		OutboxDepth,
		OutboxDeliveries,
		OutboxFlushes,
		OutboxDropped,
		KitchenTickets,
		KitchenStationsDone,
		RemoteLegs,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
