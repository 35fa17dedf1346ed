package metrics

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics exposes per-tick counters and gauges covering the
// coordinator, router, clock, and matching engine subsystems.
type EngineMetrics struct {
	TicksProcessed   *prometheus.CounterVec
	TradesEmitted    *prometheus.CounterVec
	RejectsEmitted   *prometheus.CounterVec
	TickDuration     *prometheus.HistogramVec
	RouterEnqueued   *prometheus.CounterVec
	RouterDropped    *prometheus.CounterVec
	SymbolsActive    prometheus.Gauge
	SymbolsEvicted   prometheus.Counter
}

// NewEngineMetrics registers the metric set against registry.
func NewEngineMetrics(registry *prometheus.Registry) *EngineMetrics {
	m := &EngineMetrics{
		TicksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchcore",
			Name:      "ticks_processed_total",
			Help:      "Ticks processed per symbol.",
		}, []string{"symbol"}),
		TradesEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchcore",
			Name:      "trades_emitted_total",
			Help:      "Trade events emitted per symbol.",
		}, []string{"symbol"}),
		RejectsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchcore",
			Name:      "rejects_emitted_total",
			Help:      "Lifecycle rejections per symbol and reason.",
		}, []string{"symbol", "reason"}),
		TickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "matchcore",
			Name:      "tick_duration_seconds",
			Help:      "Wall time spent inside Engine.Tick.",
			Buckets:   prometheus.ExponentialBuckets(0.000001, 2, 20),
		}, []string{"symbol"}),
		RouterEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchcore",
			Name:      "router_enqueued_total",
			Help:      "Messages accepted onto a symbol's ingress queue.",
		}, []string{"symbol"}),
		RouterDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "matchcore",
			Name:      "router_dropped_total",
			Help:      "Messages dropped by router backpressure.",
		}, []string{"symbol"}),
		SymbolsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "matchcore",
			Name:      "symbols_active",
			Help:      "Symbols currently registered with the coordinator (registered through evicting).",
		}),
		SymbolsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "matchcore",
			Name:      "symbols_evicted_total",
			Help:      "Symbols evicted since process start.",
		}),
	}

	registry.MustRegister(
		m.TicksProcessed, m.TradesEmitted, m.RejectsEmitted, m.TickDuration,
		m.RouterEnqueued, m.RouterDropped, m.SymbolsActive, m.SymbolsEvicted,
	)
	return m
}
