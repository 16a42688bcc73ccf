package domain

import (
	"fmt"
	"strings"
	"time"
)

// Config holds the complete Harrier configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Tier determines which infrastructure backends are used by default
	Tier Tier `json:"tier" mapstructure:"tier"`

	// Decision engine
	Engine EngineConfig `json:"engine" mapstructure:"engine"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"event_bus"`
	Stats      StatsConfig      `json:"stats" mapstructure:"stats"`
	Worker     WorkerConfig     `json:"worker" mapstructure:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// EngineConfig configures the decision engine and its model artifacts.
type EngineConfig struct {
	// EnsemblePath is the mandatory ensemble artifact (JSON or YAML).
	EnsemblePath string `json:"ensemblePath" mapstructure:"ensemble_path"`

	// NoveltyPath is the optional isolation forest artifact.
	// Empty or missing disables novelty detection.
	NoveltyPath string `json:"noveltyPath" mapstructure:"novelty_path"`

	Thresholds Thresholds   `json:"thresholds" mapstructure:"thresholds"`
	Costs      CostConfig   `json:"costs" mapstructure:"costs"`
	View       DecisionView `json:"view" mapstructure:"view"`

	// MaxWorkers bounds concurrent member queries per evaluation.
	MaxWorkers int `json:"maxWorkers" mapstructure:"max_workers"`

	// ModelVersion is used when the artifact does not declare one.
	ModelVersion string `json:"modelVersion" mapstructure:"model_version"`
}

// Validate checks thresholds, costs and the decision view.
func (c EngineConfig) Validate() error {
	if err := c.Thresholds.Validate(); err != nil {
		return err
	}
	if err := c.Costs.Validate(); err != nil {
		return err
	}
	if !c.View.Valid() {
		return fmt.Errorf("%w: unknown decision view %q", ErrInvalidConfig, c.View)
	}
	if c.MaxWorkers < 0 {
		return fmt.Errorf("%w: max workers must not be negative, got %d", ErrInvalidConfig, c.MaxWorkers)
	}
	return nil
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string   `json:"host" mapstructure:"host"`
	Port         int      `json:"port" mapstructure:"port"`
	ReadTimeout  int      `json:"readTimeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int      `json:"writeTimeout" mapstructure:"write_timeout"` // seconds
	CORSOrigins  []string `json:"corsOrigins" mapstructure:"cors_origins"`
}

// StatsConfig controls the rolling decision counters.
type StatsConfig struct {
	Enabled bool          `json:"enabled" mapstructure:"enabled"`
	Window  time.Duration `json:"window" mapstructure:"window"`
}

// WorkerConfig controls the asynchronous scoring worker.
type WorkerConfig struct {
	Enabled     bool `json:"enabled" mapstructure:"enabled"`
	Concurrency int  `json:"concurrency" mapstructure:"concurrency"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName  string `json:"serviceName" mapstructure:"service_name"`
	ExporterType string `json:"exporterType" mapstructure:"exporter_type"` // stdout, otlp
	Endpoint     string `json:"endpoint" mapstructure:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite, channels and the in-process cache.
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL, NATS and Redis.
	TierPro Tier = "pro"
)

// Validate checks every section of the configuration.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server port out of range: %d", ErrInvalidConfig, c.Server.Port)
	}
	if c.Tier != TierCommunity && c.Tier != TierPro {
		return fmt.Errorf("%w: unknown tier %q", ErrInvalidConfig, c.Tier)
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}

	switch c.Repository.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("%w: unsupported repository driver %q", ErrInvalidConfig, c.Repository.Driver)
	}

	switch c.Cache.Type {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: unsupported cache type %q", ErrInvalidConfig, c.Cache.Type)
	}

	switch c.EventBus.Type {
	case "channel", "nats":
	default:
		return fmt.Errorf("%w: unsupported event bus type %q", ErrInvalidConfig, c.EventBus.Type)
	}

	if c.Stats.Enabled && c.Stats.Window <= 0 {
		return fmt.Errorf("%w: stats window must be positive", ErrInvalidConfig)
	}

	if c.Worker.Concurrency < 0 {
		return fmt.Errorf("%w: worker concurrency must not be negative", ErrInvalidConfig)
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.Logging.Level)
	}

	return nil
}

// DefaultConfig returns a default configuration for the Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
			CORSOrigins:  []string{"http://localhost:5173", "http://localhost:3000"},
		},
		Tier: TierCommunity,
		Engine: EngineConfig{
			EnsemblePath: "./models/ensemble.json",
			NoveltyPath:  "./models/isolation_forest.json",
			Thresholds:   DefaultThresholds(),
			Costs:        DefaultCosts(),
			View:         ViewCanonical,
			MaxWorkers:   4,
			ModelVersion: DefaultModelVersion,
		},
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./harrier.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Stats: StatsConfig{
			Enabled: true,
			Window:  time.Hour,
		},
		Worker: WorkerConfig{
			Enabled:     false,
			Concurrency: 4,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "harrier",
		},
	}
}

// ProConfig returns a configuration for the Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:          "postgres",
		PostgresHost:    "localhost",
		PostgresPort:    5432,
		PostgresDB:      "harrier",
		PostgresSSLMode: "disable",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}
