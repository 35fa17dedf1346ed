package config

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the root configuration for a matchcore process, covering the
// coordinator, router, clock, event bus, and persistence subsystems.
type Config struct {
	Coordinator struct {
		WorkerCount          int    `mapstructure:"worker_count" validate:"required,gt=0"`
		Placement            string `mapstructure:"placement" validate:"oneof=round_robin hash"`
		QueueCapacity        int    `mapstructure:"queue_capacity" validate:"required,gt=0"`
		SymbolOrdering       string `mapstructure:"symbol_ordering" validate:"oneof=by_symbol_id by_activation_time"`
		ReferencePriceTTLSecs int   `mapstructure:"reference_price_ttl_secs"`
		MaxConcurrentSymbols int    `mapstructure:"max_concurrent_symbols"`
		MaxSymbolsPerThread  int    `mapstructure:"max_symbols_per_thread"`
	} `mapstructure:"coordinator"`

	// Engine is copied into the coordinator's EngineTemplate, used to
	// construct an engine the first time EnsureActive sees a symbol.
	Engine struct {
		BatchMax             int     `mapstructure:"batch_max" validate:"required,gt=0"`
		ArenaCapacity        int     `mapstructure:"arena_capacity" validate:"required,gt=0"`
		ElasticArena         bool    `mapstructure:"elastic_arena"`
		DomainFloor          uint32  `mapstructure:"domain_floor"`
		DomainCeil           uint32  `mapstructure:"domain_ceil" validate:"required,gt=0"`
		DomainTick           uint32  `mapstructure:"domain_tick" validate:"required,gt=0"`
		BandMode             string  `mapstructure:"band_mode" validate:"oneof=absolute percent"`
		BandValue            float64 `mapstructure:"band_value"`
		SelfMatchPolicy      string  `mapstructure:"self_match_policy" validate:"oneof=skip cancel_resting cancel_aggressor"`
		ExecIDMode           string  `mapstructure:"exec_id_mode" validate:"oneof=sharded external"`
		ExecShiftBits        uint    `mapstructure:"exec_shift_bits"`
		AllowMarketColdStart bool    `mapstructure:"allow_market_cold_start"`
		OrderIndexCapacity   int     `mapstructure:"order_index_capacity"`
	} `mapstructure:"engine"`

	Router struct {
		Shards         int     `mapstructure:"shards" validate:"required,gt=0"`
		BackpressureQPS float64 `mapstructure:"backpressure_qps" validate:"gt=0"`
		BackpressureBurst int   `mapstructure:"backpressure_burst" validate:"gt=0"`
	} `mapstructure:"router"`

	Clock struct {
		TickHz              float64 `mapstructure:"tick_hz" validate:"gt=0"`
		ParallelismMode     string  `mapstructure:"parallelism_mode" validate:"oneof=sequential pooled"`
		ErrorRecoveryMode   string  `mapstructure:"error_recovery_mode" validate:"oneof=continue halt retry"`
		ErrorRecoveryRetries int    `mapstructure:"error_recovery_retries"`
		ShutdownTimeoutSecs int     `mapstructure:"shutdown_timeout_secs" validate:"gt=0"`
	} `mapstructure:"clock"`

	EventBus struct {
		NATSURL          string `mapstructure:"nats_url"`
		Subject          string `mapstructure:"subject" validate:"required"`
		BreakerThreshold uint32 `mapstructure:"breaker_threshold" validate:"gt=0"`
	} `mapstructure:"eventbus"`

	Persistence struct {
		SnapshotDir      string `mapstructure:"snapshot_dir" validate:"required"`
		CompressionLevel int    `mapstructure:"compression_level"`
	} `mapstructure:"persistence"`

	Monitoring struct {
		PrometheusPort int    `mapstructure:"prometheus_port"`
		LogLevel       string `mapstructure:"log_level"`
	} `mapstructure:"monitoring"`
}

var (
	cfg  *Config
	once sync.Once
)

// Load reads configuration from configPath (a directory) plus the
// MATCHCORE_ environment prefix, falling back to defaults, and validates
// the result. Subsequent calls return the first-loaded config.
func Load(configPath string) (*Config, error) {
	var err error

	once.Do(func() {
		cfg = &Config{}
		setDefaults()

		v := viper.New()
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		if configPath != "" {
			v.AddConfigPath(configPath)
		} else {
			v.AddConfigPath(".")
			v.AddConfigPath("./config")
			v.AddConfigPath("/etc/matchcore")
		}

		v.AutomaticEnv()
		v.SetEnvPrefix("MATCHCORE")

		if rerr := v.ReadInConfig(); rerr != nil {
			if _, ok := rerr.(viper.ConfigFileNotFoundError); !ok {
				err = fmt.Errorf("config: read: %w", rerr)
				return
			}
		}

		if uerr := v.Unmarshal(cfg); uerr != nil {
			err = fmt.Errorf("config: unmarshal: %w", uerr)
			return
		}

		if verr := validator.New().Struct(cfg); verr != nil {
			err = fmt.Errorf("config: validate: %w", verr)
			return
		}
	})

	return cfg, err
}

// Get returns the process-wide config, loading it with defaults if no
// prior Load call has run.
func Get() *Config {
	if cfg == nil {
		c, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("config: failed to load: %v", err))
		}
		return c
	}
	return cfg
}

func setDefaults() {
	cfg.Coordinator.WorkerCount = 4
	cfg.Coordinator.Placement = "round_robin"
	cfg.Coordinator.QueueCapacity = 4096
	cfg.Coordinator.SymbolOrdering = "by_symbol_id"
	cfg.Coordinator.ReferencePriceTTLSecs = 5
	cfg.Coordinator.MaxConcurrentSymbols = 0
	cfg.Coordinator.MaxSymbolsPerThread = 0

	cfg.Engine.BatchMax = 256
	cfg.Engine.ArenaCapacity = 1 << 20
	cfg.Engine.ElasticArena = true
	cfg.Engine.DomainFloor = 1
	cfg.Engine.DomainCeil = 1_000_000_000
	cfg.Engine.DomainTick = 1
	cfg.Engine.BandMode = "percent"
	cfg.Engine.BandValue = 0.1
	cfg.Engine.SelfMatchPolicy = "cancel_resting"
	cfg.Engine.ExecIDMode = "sharded"
	cfg.Engine.ExecShiftBits = 20
	cfg.Engine.AllowMarketColdStart = false
	cfg.Engine.OrderIndexCapacity = 0

	cfg.Router.Shards = 4
	cfg.Router.BackpressureQPS = 50000
	cfg.Router.BackpressureBurst = 1000

	cfg.Clock.TickHz = 10
	cfg.Clock.ParallelismMode = "pooled"
	cfg.Clock.ErrorRecoveryMode = "continue"
	cfg.Clock.ErrorRecoveryRetries = 0
	cfg.Clock.ShutdownTimeoutSecs = 30

	cfg.EventBus.Subject = "matchcore.events"
	cfg.EventBus.BreakerThreshold = 5

	cfg.Persistence.SnapshotDir = "./data/snapshots"
	cfg.Persistence.CompressionLevel = 3

	cfg.Monitoring.PrometheusPort = 9090
	cfg.Monitoring.LogLevel = "info"
}

// InitLogger builds the process zap.Logger according to Monitoring.LogLevel.
func InitLogger(c *Config) (*zap.Logger, error) {
	var logger *zap.Logger
	var err error

	switch c.Monitoring.LogLevel {
	case "debug":
		logger, err = zap.NewDevelopment()
	default:
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("config: init logger: %w", err)
	}
	return logger, nil
}
