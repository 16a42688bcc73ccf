package repository

// Schema definitions for the Harrier artifact registry.
// Compatible with both SQLite and PostgreSQL.

const schemaArtifactLoads = `
CREATE TABLE IF NOT EXISTS artifact_loads (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    path TEXT NOT NULL,
    checksum TEXT NOT NULL DEFAULT '',
    size_bytes BIGINT NOT NULL DEFAULT 0,
    model_version TEXT NOT NULL DEFAULT '',
    member_count INTEGER NOT NULL DEFAULT 0,
    num_features INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    detail TEXT NOT NULL DEFAULT '',
    loaded_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_artifact_loads_loaded_at ON artifact_loads(loaded_at);
CREATE INDEX IF NOT EXISTS idx_artifact_loads_kind ON artifact_loads(kind, loaded_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaArtifactLoads,
	}
}
