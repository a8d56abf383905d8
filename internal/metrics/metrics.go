// Package metrics exposes the server's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "typeflow_connected_clients",
		Help: "Live WebSocket connections.",
	})

	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "typeflow_ws_events_total",
		Help: "Client events received, by event name.",
	}, []string{"event"})

	BroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "typeflow_broadcasts_total",
		Help: "Server events fanned out to rooms.",
	})
)

// RegisterActiveRooms publishes the registry size as a gauge.
func RegisterActiveRooms(count func() int) {
	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "typeflow_active_rooms",
		Help: "Rooms with in-memory coordination state.",
	}, func() float64 { return float64(count()) })
}
