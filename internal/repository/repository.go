// Package repository provides the artifact registry persistence.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	ErrInvalidInput = errors.New("invalid input")
)

// DefaultListLimit bounds ListArtifactLoads when the caller passes limit <= 0.
const DefaultListLimit = 50

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(ctx context.Context, cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(ctx, cfg)
	case "postgres":
		db, err = openPostgres(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	if err := repo.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate(ctx context.Context) error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.ExecContext(ctx, schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveArtifactLoad stores one artifact load attempt. A missing ID is
// generated and a zero LoadedAt is set to now.
func (r *SQLRepository) SaveArtifactLoad(ctx context.Context, load *domain.ArtifactLoad) error {
	if load == nil {
		return fmt.Errorf("%w: load is required", ErrInvalidInput)
	}
	if load.Kind != domain.ArtifactEnsemble && load.Kind != domain.ArtifactNovelty {
		return fmt.Errorf("%w: unknown artifact kind %q", ErrInvalidInput, load.Kind)
	}
	if load.Status == "" {
		return fmt.Errorf("%w: status is required", ErrInvalidInput)
	}

	if load.ID == "" {
		load.ID = uuid.New().String()
	}
	if load.LoadedAt.IsZero() {
		load.LoadedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO artifact_loads (
			id, kind, path, checksum, size_bytes, model_version,
			member_count, num_features, status, detail, loaded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		load.ID, string(load.Kind), load.Path,
		load.Checksum, load.SizeBytes, load.ModelVersion,
		load.MemberCount, load.NumFeatures,
		string(load.Status), load.Detail, load.LoadedAt.UTC(),
	)
	return err
}

// ListArtifactLoads returns up to limit loads, most recent first.
func (r *SQLRepository) ListArtifactLoads(ctx context.Context, limit int) ([]*domain.ArtifactLoad, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `
		SELECT id, kind, path, checksum, size_bytes, model_version,
			   member_count, num_features, status, detail, loaded_at
		FROM artifact_loads
		ORDER BY loaded_at DESC, id DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	loads := make([]*domain.ArtifactLoad, 0)
	for rows.Next() {
		var load domain.ArtifactLoad
		var kind, status string

		if err := rows.Scan(
			&load.ID, &kind, &load.Path,
			&load.Checksum, &load.SizeBytes, &load.ModelVersion,
			&load.MemberCount, &load.NumFeatures,
			&status, &load.Detail, &load.LoadedAt,
		); err != nil {
			return nil, err
		}

		load.Kind = domain.ArtifactKind(kind)
		load.Status = domain.LoadStatus(status)
		loads = append(loads, &load)
	}

	return loads, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
