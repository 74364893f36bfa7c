// Package metrics provides Prometheus instrumentation for the stranger-call
// backend. It exposes gauges for connection, pool and room counts, plus
// counters for relay throughput and report outcomes.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of live WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "strangercall_connections_total",
		Help: "Current number of live WebSocket connections",
	})

	// WaitingPoolSize tracks the current number of users in the waiting pool.
	WaitingPoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "strangercall_waiting_pool_size",
		Help: "Current number of users waiting for a match",
	})

	// ActiveRooms tracks the current number of active two-party rooms.
	ActiveRooms = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "strangercall_active_rooms",
		Help: "Current number of active rooms",
	})

	// RelayedTotal counts relayed events, labeled by kind: "chat", "file",
	// "signal", or "dropped".
	RelayedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "strangercall_relayed_total",
		Help: "Total number of relayed events",
	}, []string{"kind"})

	// ReportsTotal counts abuse reports by outcome: "detected", "cleared",
	// "duplicate", or "error".
	ReportsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "strangercall_reports_total",
		Help: "Total number of abuse reports processed",
	}, []string{"outcome"})

	// PairsTotal counts successful pairings.
	PairsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "strangercall_pairs_total",
		Help: "Total number of successful pairings",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		WaitingPoolSize,
		ActiveRooms,
		RelayedTotal,
		ReportsTotal,
		PairsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
