// Package metrics exposes bot activity as Prometheus metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"forex-trading-bot/internal/events"
)

// Collector owns a registry fed by the event bus.
type Collector struct {
	registry *prometheus.Registry

	trades    *prometheus.CounterVec
	errors    *prometheus.CounterVec
	lifecycle *prometheus.CounterVec
	running   prometheus.Gauge
	volume    *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry. Process and Go
// runtime collectors are registered alongside the bot metrics.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_trades_total",
			Help: "Orders placed by the bot.",
		}, []string{"strategy", "side"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_errors_total",
			Help: "Tick errors by kind.",
		}, []string{"kind"}),
		lifecycle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_lifecycle_events_total",
			Help: "Events published on the bot event bus.",
		}, []string{"type"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_running",
			Help: "1 while the bot is running.",
		}),
		volume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_traded_volume_lots_total",
			Help: "Volume in lots placed by the bot.",
		}, []string{"symbol"}),
	}
	c.registry.MustRegister(
		c.trades, c.errors, c.lifecycle, c.running, c.volume,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Attach subscribes the collector to every event on bus.
func (c *Collector) Attach(bus *events.Bus) {
	bus.SubscribeAll(c.Observe)
}

// Observe updates the metrics for one event.
func (c *Collector) Observe(e events.Event) {
	c.lifecycle.WithLabelValues(string(e.Type)).Inc()

	switch e.Type {
	case events.EventStarted:
		c.running.Set(1)
	case events.EventStopped:
		c.running.Set(0)
	case events.EventTrade:
		if t, ok := events.TradeFromEvent(e); ok {
			c.trades.WithLabelValues(t.Strategy, t.Side).Inc()
			c.volume.WithLabelValues(t.Symbol).Add(t.Volume)
		}
	case events.EventError:
		kind := e.String("kind")
		if kind == "" {
			kind = "unknown"
		}
		c.errors.WithLabelValues(kind).Inc()
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
