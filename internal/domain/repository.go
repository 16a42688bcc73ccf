// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"context"
	"time"
)

// Repository records model artifact loads. Evaluation results are never
// persisted.
type Repository interface {
	SaveArtifactLoad(ctx context.Context, load *ArtifactLoad) error

	// ListArtifactLoads returns the most recent loads first.
	ListArtifactLoads(ctx context.Context, limit int) ([]*ArtifactLoad, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ArtifactKind identifies the role of a model artifact.
type ArtifactKind string

const (
	ArtifactEnsemble ArtifactKind = "ensemble"
	ArtifactNovelty  ArtifactKind = "novelty"
)

// LoadStatus is the outcome of one artifact load attempt.
type LoadStatus string

const (
	LoadStatusLoaded   LoadStatus = "loaded"
	LoadStatusAbsent   LoadStatus = "absent"
	LoadStatusDegraded LoadStatus = "degraded"
	LoadStatusFailed   LoadStatus = "failed"
)

// ArtifactLoad is one row of the artifact registry.
type ArtifactLoad struct {
	ID           string       `json:"id"`
	Kind         ArtifactKind `json:"kind"`
	Path         string       `json:"path"`
	Checksum     string       `json:"checksum"` // hex SHA-256, empty when unreadable
	SizeBytes    int64        `json:"sizeBytes"`
	ModelVersion string       `json:"modelVersion"`
	MemberCount  int          `json:"memberCount"`
	NumFeatures  int          `json:"numFeatures"`
	Status       LoadStatus   `json:"status"`
	Detail       string       `json:"detail,omitempty"`
	LoadedAt     time.Time    `json:"loadedAt"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" mapstructure:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" mapstructure:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" mapstructure:"postgres_port"`
	PostgresUser     string `json:"postgresUser" mapstructure:"postgres_user"`
	PostgresPassword string `json:"-" mapstructure:"postgres_password"`
	PostgresDB       string `json:"postgresDB" mapstructure:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSSLMode" mapstructure:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `json:"maxIdleConns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" mapstructure:"conn_max_lifetime"`
}
