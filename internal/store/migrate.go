package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migration upgrades the schema by one version.
type migration struct {
	version int
	name    string
	stmts   []string
}

// migrations must stay in ascending version order. Never edit a released
// migration; append a new one.
var migrations = []migration{
	{
		version: 1,
		name:    "core collections and sync queue",
		stmts: []string{
			recordTableDDL("tasks"),
			`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
			`CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks(created_at)`,
			recordTableDDL("user"),
			`CREATE TABLE IF NOT EXISTS sync_queue (
				seq INTEGER PRIMARY KEY AUTOINCREMENT,
				id TEXT NOT NULL UNIQUE,
				action TEXT NOT NULL,
				data TEXT NOT NULL,
				timestamp TEXT NOT NULL,
				retries INTEGER NOT NULL DEFAULT 0
			)`,
			`CREATE INDEX IF NOT EXISTS idx_sync_queue_action ON sync_queue(action)`,
			`CREATE INDEX IF NOT EXISTS idx_sync_queue_timestamp ON sync_queue(timestamp)`,
		},
	},
	{
		version: 2,
		name:    "api response cache",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS api_cache (
				key TEXT PRIMARY KEY,
				endpoint TEXT NOT NULL,
				payload TEXT NOT NULL,
				cached_at TEXT NOT NULL
			)`,
		},
	},
	{
		version: 3,
		name:    "sync queue target id",
		stmts: []string{
			`ALTER TABLE sync_queue ADD COLUMN target_id TEXT NOT NULL DEFAULT ''`,
			`UPDATE sync_queue SET target_id = COALESCE(json_extract(data, '$.id'), json_extract(data, '$._id'), '')`,
			`CREATE INDEX IF NOT EXISTS idx_sync_queue_target ON sync_queue(target_id)`,
		},
	},
}

// LatestVersion is the schema version Migrate upgrades to.
func LatestVersion() int {
	return migrations[len(migrations)-1].version
}

func recordTableDDL(table string) string {
	return `CREATE TABLE IF NOT EXISTS ` + table + ` (
		id TEXT PRIMARY KEY,
		data TEXT NOT NULL,
		status TEXT,
		created_at TEXT,
		updated_at TEXT NOT NULL,
		offline INTEGER NOT NULL DEFAULT 0,
		deleted INTEGER NOT NULL DEFAULT 0
	)`
}

// SchemaVersion returns the applied schema version, 0 for a fresh database.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	if _, err := s.conn.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL, name TEXT NOT NULL, applied_at TEXT NOT NULL)`); err != nil {
		return 0, storageErr("migrate", fmt.Errorf("failed to create schema_version: %w", err))
	}

	var v sql.NullInt64
	if err := s.conn.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&v); err != nil {
		return 0, storageErr("migrate", fmt.Errorf("failed to read schema version: %w", err))
	}
	return int(v.Int64), nil
}

// Migrate applies every migration newer than the current schema version,
// each in its own transaction. Safe to call repeatedly.
func (s *Store) Migrate(ctx context.Context) error {
	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return err
		}
		s.logger.WithField("version", m.version).Debugf("applied migration: %s", m.name)
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, m migration) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("migrate", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	for _, stmt := range m.stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return storageErr("migrate", fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err))
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, name, applied_at) VALUES (?, ?, ?)`,
		m.version, m.name, formatTime(s.clock.Now())); err != nil {
		return storageErr("migrate", fmt.Errorf("failed to record migration %d: %w", m.version, err))
	}

	if err := tx.Commit(); err != nil {
		return storageErr("migrate", fmt.Errorf("failed to commit migration %d: %w", m.version, err))
	}
	return nil
}
