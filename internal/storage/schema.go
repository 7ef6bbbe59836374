package storage

import (
	"context"
	"fmt"
)

// =============================================================================
// CORE SCHEMA
// =============================================================================
// Fixed tables shared by every project. The per-project record tables are
// created dynamically by the Engine. All statements are idempotent so boot
// can run them unconditionally.

func coreSchema(d Dialect) []string {
	pk := d.AutoIncrementPK()
	ts := d.TimestampType()

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS projects (
    id %s,
    name TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    dedup_enabled BOOLEAN NOT NULL DEFAULT FALSE,
    dedup_fields TEXT NOT NULL DEFAULT '[]',
    dedup_strategy TEXT NOT NULL DEFAULT 'skip',
    created_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP
)`, pk, ts, ts),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS project_fields (
    id %s,
    project_id INTEGER NOT NULL REFERENCES projects(id),
    name TEXT NOT NULL,
    label TEXT NOT NULL DEFAULT '',
    field_type TEXT NOT NULL DEFAULT 'text',
    is_required BOOLEAN NOT NULL DEFAULT FALSE,
    is_dedup_key BOOLEAN NOT NULL DEFAULT FALSE,
    validation_pattern TEXT NOT NULL DEFAULT '',
    extraction_hint TEXT NOT NULL DEFAULT '',
    display_order INTEGER NOT NULL DEFAULT 0,
    is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
    deleted_at %s,
    created_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP
)`, pk, ts, ts),

		`CREATE INDEX IF NOT EXISTS idx_project_fields_project ON project_fields(project_id)`,

		// At most one live field per (project, name); soft-deleted rows keep
		// the name reserved for restore.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_project_fields_active_name
    ON project_fields(project_id, name) WHERE is_deleted = FALSE`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS processing_tasks (
    id TEXT PRIMARY KEY,
    project_id INTEGER NOT NULL REFERENCES projects(id),
    status TEXT NOT NULL DEFAULT 'pending',
    total_files INTEGER NOT NULL DEFAULT 0,
    processed_files INTEGER NOT NULL DEFAULT 0,
    total_rows INTEGER NOT NULL DEFAULT 0,
    processed_rows INTEGER NOT NULL DEFAULT 0,
    success_count INTEGER NOT NULL DEFAULT 0,
    error_count INTEGER NOT NULL DEFAULT 0,
    batch_number TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    created_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP
)`, ts, ts),

		`CREATE INDEX IF NOT EXISTS idx_processing_tasks_project ON processing_tasks(project_id)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS ai_configs (
    id %s,
    name TEXT NOT NULL,
    api_url TEXT NOT NULL,
    model_name TEXT NOT NULL,
    api_key TEXT NOT NULL DEFAULT '',
    temperature REAL NOT NULL DEFAULT 0.1,
    max_tokens INTEGER NOT NULL DEFAULT 2000,
    is_default BOOLEAN NOT NULL DEFAULT FALSE,
    created_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP
)`, pk, ts, ts),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS batches (
    id %s,
    batch_number TEXT NOT NULL UNIQUE,
    project_id INTEGER NOT NULL REFERENCES projects(id),
    file_count INTEGER NOT NULL DEFAULT 0,
    record_count INTEGER NOT NULL DEFAULT 0,
    created_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP
)`, pk, ts),

		`CREATE INDEX IF NOT EXISTS idx_batches_project ON batches(project_id)`,
	}
}

// EnsureCoreSchema creates the fixed tables and indexes if absent.
func (db *DB) EnsureCoreSchema(ctx context.Context) error {
	for _, stmt := range coreSchema(db.dialect) {
		if _, err := db.pool.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure core schema: %w", err)
		}
	}
	return nil
}
