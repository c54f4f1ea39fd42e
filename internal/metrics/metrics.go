// Package metrics provides Prometheus instrumentation for the relay: a gauge for
// live connections, counters for inbound events and fan-out deliveries, and a
// histogram for broadcast latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks the current number of registered relay connections.
	ConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relaychat_connections_active",
		Help: "Current number of registered relay connections",
	})

	// EventsTotal counts inbound client events, labeled by event name
	// ("message", "typing") and outcome ("accepted", "malformed", "rate_limited").
	EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relaychat_events_total",
		Help: "Total number of inbound client events",
	}, []string{"event", "outcome"})

	// DeliveriesTotal counts per-recipient fan-out results, labeled by event and
	// result ("delivered", "dropped").
	DeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relaychat_deliveries_total",
		Help: "Total number of per-connection fan-out deliveries",
	}, []string{"event", "result"})

	// BroadcastLatency records how long one fan-out pass takes in seconds.
	BroadcastLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relaychat_broadcast_latency_seconds",
		Help:    "Fan-out latency in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsActive,
		EventsTotal,
		DeliveriesTotal,
		BroadcastLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
