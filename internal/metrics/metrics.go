package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the instrumentation for the realtime layer.
type Metrics struct {
	registry *prometheus.Registry

	// Connections is the number of live websocket connections.
	Connections prometheus.Gauge

	// EventsTotal counts processed inbound socket events by name and outcome.
	EventsTotal *prometheus.CounterVec

	// FanoutTotal counts event deliveries attempted to connections.
	FanoutTotal prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Connections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "govorilka_ws_connections",
			Help: "Number of live websocket connections.",
		}),
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "govorilka_ws_events_total",
			Help: "Inbound socket events processed, by event name and outcome.",
		}, []string{"event", "outcome"}),
		FanoutTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "govorilka_ws_fanout_total",
			Help: "Event deliveries attempted to individual connections.",
		}),
	}
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
