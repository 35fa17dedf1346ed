package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEngineMetrics_RegistersAllCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewEngineMetrics(registry)

	m.TicksProcessed.WithLabelValues("1").Inc()
	m.TradesEmitted.WithLabelValues("1").Inc()
	m.RejectsEmitted.WithLabelValues("1", "bad_tick").Inc()
	m.RouterEnqueued.WithLabelValues("1").Inc()
	m.RouterDropped.WithLabelValues("1").Inc()
	m.SymbolsActive.Set(3)
	m.SymbolsEvicted.Inc()

	families, err := registry.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"matchcore_ticks_processed_total",
		"matchcore_trades_emitted_total",
		"matchcore_rejects_emitted_total",
		"matchcore_tick_duration_seconds",
		"matchcore_router_enqueued_total",
		"matchcore_router_dropped_total",
		"matchcore_symbols_active",
		"matchcore_symbols_evicted_total",
	} {
		assert.True(t, names[want], "expected metric %s to be registered", want)
	}
}

func TestEngineMetrics_SymbolsActiveReflectsSetValue(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewEngineMetrics(registry)
	m.SymbolsActive.Set(5)

	var metric dto.Metric
	require.NoError(t, m.SymbolsActive.Write(&metric))
	assert.Equal(t, float64(5), metric.GetGauge().GetValue())
}

func TestNewEngineMetrics_DoubleRegisterPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewEngineMetrics(registry)
	assert.Panics(t, func() { NewEngineMetrics(registry) })
}
