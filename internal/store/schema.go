package store

import (
	"context"
	"database/sql"

	"github.com/ry-ht/cortex/internal/logging"
	"github.com/ry-ht/cortex/internal/pool"
)

// timeLayout is RFC 3339 UTC with fixed-width nanosecond resolution; the
// fixed width keeps lexical ordering in SQL identical to chronological
// ordering (RFC3339Nano trims trailing zeros and loses that property).
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Schema versions:
// v1: core entity tables (workspace, vnode, code_unit, episode, pattern)
// v2: dependency edges (depends_on + calls view), references_symbol, documents
// v3: content blobs with ref counts, embedding table
// v4: embedding_pending + alias soft-delete columns on code_unit
const CurrentSchemaVersion = 4

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS workspace (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		source_type TEXT NOT NULL,
		namespace TEXT NOT NULL,
		source_path TEXT NOT NULL DEFAULT '',
		read_only INTEGER NOT NULL DEFAULT 0,
		parent_workspace TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		UNIQUE(namespace, name)
	)`,

	`CREATE TABLE IF NOT EXISTS vnode (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		path TEXT NOT NULL,
		kind TEXT NOT NULL,
		content_hash TEXT NOT NULL DEFAULT '',
		size INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		UNIQUE(workspace_id, path)
	)`,

	`CREATE TABLE IF NOT EXISTS content_blob (
		hash TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		ref_count INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS code_unit (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		file_path TEXT NOT NULL,
		unit_type TEXT NOT NULL,
		name TEXT NOT NULL,
		qualified_name TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		start_line INTEGER NOT NULL DEFAULT 0,
		end_line INTEGER NOT NULL DEFAULT 0,
		start_col INTEGER NOT NULL DEFAULT 0,
		end_col INTEGER NOT NULL DEFAULT 0,
		start_byte INTEGER NOT NULL DEFAULT 0,
		end_byte INTEGER NOT NULL DEFAULT 0,
		signature TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		docstring TEXT NOT NULL DEFAULT '',
		visibility TEXT NOT NULL DEFAULT 'private',
		is_async INTEGER NOT NULL DEFAULT 0,
		is_unsafe INTEGER NOT NULL DEFAULT 0,
		is_exported INTEGER NOT NULL DEFAULT 0,
		parameters TEXT NOT NULL DEFAULT '[]',
		return_type TEXT NOT NULL DEFAULT '',
		type_parameters TEXT NOT NULL DEFAULT '[]',
		attributes TEXT NOT NULL DEFAULT '[]',
		cx_cyclomatic INTEGER NOT NULL DEFAULT 0,
		cx_cognitive INTEGER NOT NULL DEFAULT 0,
		cx_nesting INTEGER NOT NULL DEFAULT 0,
		cx_lines INTEGER NOT NULL DEFAULT 0,
		cx_parameters INTEGER NOT NULL DEFAULT 0,
		cx_returns INTEGER NOT NULL DEFAULT 0,
		has_tests INTEGER NOT NULL DEFAULT 0,
		has_documentation INTEGER NOT NULL DEFAULT 0,
		test_coverage REAL,
		language_specific TEXT NOT NULL DEFAULT '{}',
		tags TEXT NOT NULL DEFAULT '[]',
		content_hash TEXT NOT NULL DEFAULT '',
		embedding_pending INTEGER NOT NULL DEFAULT 0,
		alias_of TEXT NOT NULL DEFAULT '',
		deleted INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		UNIQUE(workspace_id, qualified_name, file_path, start_byte)
	)`,

	`CREATE TABLE IF NOT EXISTS depends_on (
		id TEXT PRIMARY KEY,
		workspace_id TEXT NOT NULL,
		source_unit_id TEXT NOT NULL,
		target_unit_id TEXT NOT NULL DEFAULT '',
		target_name TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		is_direct INTEGER NOT NULL DEFAULT 1,
		is_runtime INTEGER NOT NULL DEFAULT 0,
		is_dev INTEGER NOT NULL DEFAULT 0,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		UNIQUE(source_unit_id, target_unit_id, target_name, kind)
	)`,

	`CREATE VIEW IF NOT EXISTS calls AS
		SELECT * FROM depends_on WHERE kind = 'calls'`,

	`CREATE TABLE IF NOT EXISTS episode (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		task_type TEXT NOT NULL DEFAULT '',
		context TEXT NOT NULL DEFAULT 'null',
		action_taken TEXT NOT NULL DEFAULT '',
		outcome TEXT NOT NULL DEFAULT '',
		success INTEGER NOT NULL DEFAULT 0,
		learned_patterns TEXT NOT NULL DEFAULT '[]',
		importance REAL NOT NULL DEFAULT 0.5,
		last_accessed TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		consolidated INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	)`,

	`CREATE TABLE IF NOT EXISTS pattern (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		pattern_type TEXT NOT NULL,
		context TEXT NOT NULL DEFAULT '',
		solution TEXT NOT NULL DEFAULT '',
		confidence REAL NOT NULL DEFAULT 0,
		usage_count INTEGER NOT NULL DEFAULT 0,
		success_rate REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1
	)`,

	`CREATE TABLE IF NOT EXISTS references_symbol (
		id TEXT PRIMARY KEY,
		episode_id TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(episode_id, unit_id)
	)`,

	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		vnode_id TEXT NOT NULL,
		unit_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		UNIQUE(vnode_id, unit_id)
	)`,

	`CREATE TABLE IF NOT EXISTS embedding (
		entity_kind TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		dim INTEGER NOT NULL,
		vector BLOB NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY(entity_kind, entity_id)
	)`,
}

var schemaIndexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_vnode_workspace ON vnode(workspace_id)`,
	`CREATE INDEX IF NOT EXISTS idx_unit_workspace ON code_unit(workspace_id)`,
	`CREATE INDEX IF NOT EXISTS idx_unit_qualified ON code_unit(workspace_id, qualified_name)`,
	`CREATE INDEX IF NOT EXISTS idx_unit_file ON code_unit(workspace_id, file_path)`,
	`CREATE INDEX IF NOT EXISTS idx_dep_source ON depends_on(source_unit_id)`,
	`CREATE INDEX IF NOT EXISTS idx_dep_target ON depends_on(target_unit_id)`,
	`CREATE INDEX IF NOT EXISTS idx_dep_workspace ON depends_on(workspace_id)`,
	`CREATE INDEX IF NOT EXISTS idx_episode_ts ON episode(timestamp)`,
	`CREATE INDEX IF NOT EXISTS idx_refsym_unit ON references_symbol(unit_id)`,
}

// migration adds a column to an existing table; tables created fresh already
// carry every column.
type migration struct {
	Table  string
	Column string
	Def    string
}

var pendingMigrations = []migration{
	{"code_unit", "embedding_pending", "INTEGER NOT NULL DEFAULT 0"},
	{"code_unit", "alias_of", "TEXT NOT NULL DEFAULT ''"},
	{"code_unit", "deleted", "INTEGER NOT NULL DEFAULT 0"},
	{"episode", "consolidated", "INTEGER NOT NULL DEFAULT 0"},
}

// initialize creates the schema and applies pending migrations.
func (s *Store) initialize() error {
	timer := logging.StartTimer(logging.CategoryStore, "initialize")
	defer timer.Stop()

	ctx := context.Background()
	return s.pool.WithRetry(ctx, "initialize", func(h *pool.Handle) error {
		return h.Transaction(ctx, func(tx *sql.Tx) error {
			for _, stmt := range schemaStatements {
				if _, err := tx.Exec(stmt); err != nil {
					logging.Get(logging.CategoryStore).Error("Schema statement failed: %v", err)
					return err
				}
			}
			for _, stmt := range schemaIndexes {
				if _, err := tx.Exec(stmt); err != nil {
					return err
				}
			}

			var version int
			err := tx.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&version)
			if err == sql.ErrNoRows {
				if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", CurrentSchemaVersion); err != nil {
					return err
				}
				version = CurrentSchemaVersion
			} else if err != nil {
				return err
			}

			if version < CurrentSchemaVersion {
				applied := 0
				for _, m := range pendingMigrations {
					if columnExists(tx, m.Table, m.Column) {
						continue
					}
					if _, err := tx.Exec("ALTER TABLE " + m.Table + " ADD COLUMN " + m.Column + " " + m.Def); err != nil {
						return err
					}
					applied++
				}
				if _, err := tx.Exec("UPDATE schema_version SET version = ?", CurrentSchemaVersion); err != nil {
					return err
				}
				logging.Store("Schema migrated %d -> %d (%d column migrations)", version, CurrentSchemaVersion, applied)
			}
			return nil
		})
	})
}

func columnExists(tx *sql.Tx, table, column string) bool {
	rows, err := tx.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
