// Command matchcore runs the deterministic per-symbol matching engine
// platform: an Order Router accepting inbound messages, a Symbol
// Coordinator ticking each registered symbol's engine, and a Simulation
// Clock driving tick cadence with downstream event fanout.
package main

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/abdoElHodaky/matchcore/internal/clock"
	"github.com/abdoElHodaky/matchcore/internal/config"
	"github.com/abdoElHodaky/matchcore/internal/coordinator"
	"github.com/abdoElHodaky/matchcore/internal/eventbus"
	"github.com/abdoElHodaky/matchcore/internal/metrics"
	"github.com/abdoElHodaky/matchcore/internal/persistence"
	"github.com/abdoElHodaky/matchcore/internal/router"
	"github.com/abdoElHodaky/matchcore/pkg/matching"
)

func main() {
	app := fx.New(
		fx.Provide(provideConfig),
		fx.Provide(provideLogger),
		metrics.Module,
		fx.Provide(provideRouter),
		fx.Provide(provideCoordinator),
		fx.Provide(provideEventBus),
		fx.Provide(provideClock),
		fx.Provide(provideWAL),
		fx.Invoke(applyRuntimeTuning),
		fx.Invoke(wireRouterActivator),
		fx.Invoke(runClock),
	)
	app.Run()
}

// wireRouterActivator wires the coordinator as the router's activator
// after both are constructed, breaking the circular dependency a
// constructor parameter would otherwise require (the router needs the
// coordinator to activate inactive symbols; the coordinator needs the
// router to register each symbol's ingress queue).
func wireRouterActivator(r *router.Router, co *coordinator.Coordinator) {
	r.SetActivator(co)
}

func provideConfig() (*config.Config, error) {
	return config.Load("")
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	return config.InitLogger(cfg)
}

func applyRuntimeTuning() {
	config.DefaultRuntimeTuning().Apply()
}

func provideRouter(cfg *config.Config, m *metrics.EngineMetrics, logger *zap.Logger) *router.Router {
	return router.New(router.Config{
		Shards:            cfg.Router.Shards,
		BackpressureQPS:   cfg.Router.BackpressureQPS,
		BackpressureBurst: cfg.Router.BackpressureBurst,
	}, m, logger)
}

func provideCoordinator(cfg *config.Config, r *router.Router, m *metrics.EngineMetrics, logger *zap.Logger) (*coordinator.Coordinator, error) {
	ordering := coordinator.BySymbolID
	if cfg.Coordinator.SymbolOrdering == "by_activation_time" {
		ordering = coordinator.ByActivationTime
	}
	return coordinator.New(coordinator.Config{
		WorkerCount:          cfg.Coordinator.WorkerCount,
		Placement:            cfg.Coordinator.Placement,
		QueueCapacity:        cfg.Coordinator.QueueCapacity,
		CoreVersion:          "1.0.0",
		EngineTemplate:       engineTemplate(cfg),
		ReferencePriceTTL:    time.Duration(cfg.Coordinator.ReferencePriceTTLSecs) * time.Second,
		SymbolOrdering:       ordering,
		MaxConcurrentSymbols: cfg.Coordinator.MaxConcurrentSymbols,
		MaxSymbolsPerThread:  cfg.Coordinator.MaxSymbolsPerThread,
	}, r, m, logger)
}

// engineTemplate builds the matching.Config EnsureActive copies (with
// SymbolID overwritten) to construct a new symbol's engine on demand.
func engineTemplate(cfg *config.Config) matching.Config {
	bandMode := matching.BandAbsolute
	if cfg.Engine.BandMode == "percent" {
		bandMode = matching.BandPercent
	}
	selfMatch := matching.SelfMatchSkip
	switch cfg.Engine.SelfMatchPolicy {
	case "cancel_resting":
		selfMatch = matching.SelfMatchCancelResting
	case "cancel_aggressor":
		selfMatch = matching.SelfMatchCancelAggressor
	}
	execIDMode := matching.ExecIDSharded
	if cfg.Engine.ExecIDMode == "external" {
		execIDMode = matching.ExecIDExternal
	}
	return matching.Config{
		Domain: matching.PriceDomain{
			Floor: cfg.Engine.DomainFloor,
			Ceil:  cfg.Engine.DomainCeil,
			Tick:  cfg.Engine.DomainTick,
		},
		BandMode:             bandMode,
		BandValue:            cfg.Engine.BandValue,
		ArenaCapacity:        cfg.Engine.ArenaCapacity,
		ElasticArena:         cfg.Engine.ElasticArena,
		BatchMax:             cfg.Engine.BatchMax,
		SelfMatch:            selfMatch,
		ExecIDMode:           execIDMode,
		ExecShiftBits:        cfg.Engine.ExecShiftBits,
		AllowMarketColdStart: cfg.Engine.AllowMarketColdStart,
		OrderIndexCapacity:   cfg.Engine.OrderIndexCapacity,
	}
}

func provideEventBus(cfg *config.Config, logger *zap.Logger) (*eventbus.Bus, error) {
	return eventbus.New(eventbus.Config{
		NATSURL:          cfg.EventBus.NATSURL,
		Subject:          cfg.EventBus.Subject,
		BreakerThreshold: cfg.EventBus.BreakerThreshold,
	}, logger)
}

func provideWAL(cfg *config.Config) (*persistence.FileSink, error) {
	return persistence.NewFileSink(cfg.Persistence.SnapshotDir)
}

func provideClock(cfg *config.Config, co *coordinator.Coordinator, bus *eventbus.Bus, logger *zap.Logger) *clock.Clock {
	mode := clock.Pooled
	if cfg.Clock.ParallelismMode == "sequential" {
		mode = clock.Sequential
	}
	recoveryMode := clock.RecoveryContinue
	switch cfg.Clock.ErrorRecoveryMode {
	case "halt":
		recoveryMode = clock.RecoveryHalt
	case "retry":
		recoveryMode = clock.RecoveryRetry
	}
	return clock.New(clock.Config{
		TickHz:          cfg.Clock.TickHz,
		ParallelismMode: mode,
		ErrorRecovery: clock.ErrorRecoveryPolicy{
			Mode:    recoveryMode,
			Retries: cfg.Clock.ErrorRecoveryRetries,
		},
		ShutdownTimeoutSecs: cfg.Clock.ShutdownTimeoutSecs,
	}, co, bus, logger)
}

func runClock(lc fx.Lifecycle, c *clock.Clock, co *coordinator.Coordinator, bus *eventbus.Bus, wal *persistence.FileSink, logger *zap.Logger) {
	ctx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("matchcore starting")
			go func() {
				if err := c.Run(ctx); err != nil && err != context.Canceled {
					logger.Error("clock stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			logger.Info("matchcore stopping")
			if err := c.Stop(stopCtx); err != nil {
				logger.Warn("clock graceful shutdown incomplete", zap.Error(err))
			}
			cancel()
			co.Release()
			if err := bus.Close(); err != nil {
				logger.Warn("eventbus close error", zap.Error(err))
			}
			return wal.Close()
		},
	})
}
