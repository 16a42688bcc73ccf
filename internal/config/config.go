// Package config loads the Harrier configuration from defaults, an optional
// file and HARRIER_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/opensource-finance/harrier/internal/domain"
)

// EnvPrefix is the prefix of every environment override, e.g.
// HARRIER_ENGINE_THRESHOLDS_DECLINE=0.85 or HARRIER_EVENT_BUS_NATS_URL.
const EnvPrefix = "HARRIER"

// Load builds the configuration. Precedence from lowest to highest: tier
// defaults, the config file at path (optional, any format viper reads),
// environment variables. The result is validated.
func Load(path string) (*domain.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	base := domain.DefaultConfig()
	if strings.EqualFold(os.Getenv(EnvPrefix+"_TIER"), string(domain.TierPro)) {
		base = domain.ProConfig()
	}
	setDefaults(v, base)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("%w: failed to read config file %s: %v", domain.ErrInvalidConfig, path, err)
		}
	}

	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to decode config: %v", domain.ErrInvalidConfig, err)
	}

	if v.GetBool("debug") {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, cfg *domain.Config) {
	// Server
	v.SetDefault("server.host", cfg.Server.Host)
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("server.cors_origins", cfg.Server.CORSOrigins)

	v.SetDefault("tier", string(cfg.Tier))
	v.SetDefault("debug", false)

	// Engine
	v.SetDefault("engine.ensemble_path", cfg.Engine.EnsemblePath)
	v.SetDefault("engine.novelty_path", cfg.Engine.NoveltyPath)
	v.SetDefault("engine.thresholds.decline", cfg.Engine.Thresholds.Decline)
	v.SetDefault("engine.thresholds.escalate", cfg.Engine.Thresholds.Escalate)
	v.SetDefault("engine.thresholds.auth", cfg.Engine.Thresholds.Auth)
	v.SetDefault("engine.thresholds.uncertainty", cfg.Engine.Thresholds.Uncertainty)
	v.SetDefault("engine.thresholds.anomaly", cfg.Engine.Thresholds.Anomaly)
	v.SetDefault("engine.costs.fraud_cost", cfg.Engine.Costs.FraudCost)
	v.SetDefault("engine.costs.review_cost", cfg.Engine.Costs.ReviewCost)
	v.SetDefault("engine.costs.false_positive_cost", cfg.Engine.Costs.FalsePositiveCost)
	v.SetDefault("engine.view", string(cfg.Engine.View))
	v.SetDefault("engine.max_workers", cfg.Engine.MaxWorkers)
	v.SetDefault("engine.model_version", cfg.Engine.ModelVersion)

	// Repository
	v.SetDefault("repository.driver", cfg.Repository.Driver)
	v.SetDefault("repository.sqlite_path", cfg.Repository.SQLitePath)
	v.SetDefault("repository.postgres_host", cfg.Repository.PostgresHost)
	v.SetDefault("repository.postgres_port", cfg.Repository.PostgresPort)
	v.SetDefault("repository.postgres_user", cfg.Repository.PostgresUser)
	v.SetDefault("repository.postgres_password", cfg.Repository.PostgresPassword)
	v.SetDefault("repository.postgres_db", cfg.Repository.PostgresDB)
	v.SetDefault("repository.postgres_ssl_mode", cfg.Repository.PostgresSSLMode)
	v.SetDefault("repository.max_open_conns", cfg.Repository.MaxOpenConns)
	v.SetDefault("repository.max_idle_conns", cfg.Repository.MaxIdleConns)
	v.SetDefault("repository.conn_max_lifetime", cfg.Repository.ConnMaxLifetime)

	// Cache
	v.SetDefault("cache.type", cfg.Cache.Type)
	v.SetDefault("cache.local_max_size", cfg.Cache.LocalMaxSize)
	v.SetDefault("cache.local_ttl", cfg.Cache.LocalTTL)
	v.SetDefault("cache.redis_addr", cfg.Cache.RedisAddr)
	v.SetDefault("cache.redis_password", cfg.Cache.RedisPassword)
	v.SetDefault("cache.redis_db", cfg.Cache.RedisDB)
	v.SetDefault("cache.enable_two_phase", cfg.Cache.EnableTwoPhase)

	// Event bus
	v.SetDefault("event_bus.type", cfg.EventBus.Type)
	v.SetDefault("event_bus.channel_buffer_size", cfg.EventBus.ChannelBufferSize)
	v.SetDefault("event_bus.nats_url", cfg.EventBus.NATSUrl)
	v.SetDefault("event_bus.nats_token", cfg.EventBus.NATSToken)
	v.SetDefault("event_bus.nats_max_reconnects", cfg.EventBus.NATSMaxReconnects)
	v.SetDefault("event_bus.nats_reconnect_wait", cfg.EventBus.NATSReconnectWait)

	// Stats
	v.SetDefault("stats.enabled", cfg.Stats.Enabled)
	v.SetDefault("stats.window", cfg.Stats.Window)

	// Worker
	v.SetDefault("worker.enabled", cfg.Worker.Enabled)
	v.SetDefault("worker.concurrency", cfg.Worker.Concurrency)

	// Observability
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
	v.SetDefault("tracing.exporter_type", cfg.Tracing.ExporterType)
	v.SetDefault("tracing.endpoint", cfg.Tracing.Endpoint)
}
