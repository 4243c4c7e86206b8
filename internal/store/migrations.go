package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migration is one versioned, ordered set of DDL statements. Versions are
// monotone and never reordered; runMigrations applies every version greater
// than the current max(schema_migrations.version).
type migration struct {
	version    int
	statements []string
}

var migrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS sessions (
				id TEXT PRIMARY KEY,
				objective TEXT,
				state TEXT NOT NULL,
				started_at DATETIME NOT NULL,
				ended_at DATETIME,
				parent_session_id TEXT,
				config_snapshot TEXT,
				context_summary TEXT,
				metadata TEXT,
				operator TEXT,
				hostname TEXT,
				k6s_version TEXT,
				agent_runtime_version TEXT,
				git_branch TEXT,
				git_sha TEXT,
				git_dirty INTEGER NOT NULL DEFAULT 0,
				trace_id TEXT
			);`,
			`CREATE TABLE IF NOT EXISTS agents (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL REFERENCES sessions(id),
				name TEXT NOT NULL,
				role TEXT,
				specialization TEXT,
				state TEXT NOT NULL DEFAULT 'active',
				spawned_at DATETIME NOT NULL,
				boundary_config TEXT,
				metadata TEXT,
				external_session_id TEXT,
				tool_call_count INTEGER NOT NULL DEFAULT 0
			);`,
			`CREATE INDEX IF NOT EXISTS idx_agents_session ON agents(session_id);`,
			`CREATE TABLE IF NOT EXISTS audit_events (
				id TEXT PRIMARY KEY,
				sequence INTEGER NOT NULL,
				session_id TEXT NOT NULL REFERENCES sessions(id),
				agent_id TEXT REFERENCES agents(id),
				timestamp DATETIME NOT NULL,
				event_type TEXT NOT NULL,
				action TEXT NOT NULL,
				details TEXT,
				files_affected TEXT,
				gate_id TEXT,
				hmac TEXT,
				severity TEXT NOT NULL DEFAULT 'info'
			);`,
			`CREATE INDEX IF NOT EXISTS idx_audit_events_session_sequence ON audit_events(session_id, sequence);`,
			`CREATE INDEX IF NOT EXISTS idx_audit_events_type ON audit_events(event_type);`,
			`CREATE INDEX IF NOT EXISTS idx_audit_events_agent ON audit_events(agent_id);`,
			`CREATE TABLE IF NOT EXISTS context_store (
				key TEXT NOT NULL,
				session_id TEXT NOT NULL,
				agent_id TEXT,
				value TEXT,
				updated_at DATETIME NOT NULL,
				PRIMARY KEY (key, session_id)
			);`,
			`CREATE TABLE IF NOT EXISTS file_locks (
				path TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				agent_id TEXT NOT NULL,
				acquired_at DATETIME NOT NULL,
				expires_at DATETIME
			);`,
			`CREATE TABLE IF NOT EXISTS boundary_violations (
				id TEXT PRIMARY KEY,
				session_id TEXT NOT NULL,
				agent_id TEXT,
				timestamp DATETIME NOT NULL,
				file_path TEXT NOT NULL,
				violation_type TEXT NOT NULL,
				enforcement_action TEXT NOT NULL,
				details TEXT
			);`,
			`CREATE INDEX IF NOT EXISTS idx_boundary_violations_session ON boundary_violations(session_id);`,
		},
	},
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var maxVersion int
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&maxVersion); err != nil {
		return fmt.Errorf("read migration max version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= maxVersion {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?);`, m.version); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}
