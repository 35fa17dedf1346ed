package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/matchcore/internal/config"
)

// Module wires the Prometheus registry, the matchcore metric set, and the
// /metrics HTTP handler into the fx graph.
var Module = fx.Options(
	fx.Provide(NewPrometheusRegistry),
	fx.Provide(NewEngineMetrics),
	fx.Invoke(RegisterMetricsHandler),
)

// NewPrometheusRegistry creates a registry scoped to this process.
func NewPrometheusRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterMetricsHandler starts an HTTP server serving /metrics, stopped
// on fx shutdown.
func RegisterMetricsHandler(
	lifecycle fx.Lifecycle,
	registry *prometheus.Registry,
	cfg *config.Config,
	logger *zap.Logger,
) {
	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	addr := fmt.Sprintf(":%d", cfg.Monitoring.PrometheusPort)
	server := &http.Server{Addr: addr, Handler: handler}

	lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("starting metrics server", zap.String("addr", server.Addr))
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping metrics server")
			return server.Shutdown(ctx)
		},
	})
}
