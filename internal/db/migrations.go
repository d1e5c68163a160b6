package db

import (
	"database/sql"
	"fmt"
)

// migration is one forward-only schema step. Steps must be idempotent so an
// interrupted upgrade can be rerun.
type migration struct {
	version int
	apply   func(tx *sql.Tx) error
}

var migrations = []migration{
	{version: 1, apply: migrateV1},
	{version: 2, apply: migrateV2},
}

// RunMigrations upgrades the schema sequentially, recording progress in
// schema_info. Each step runs in its own transaction.
func RunMigrations(conn *sql.DB) error {
	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS schema_info (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("failed to create schema_info: %w", err)
	}

	current, err := schemaVersion(conn)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := conn.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}
		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
		if _, err := tx.Exec(`DELETE FROM schema_info`); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_info (version) VALUES (?)`, m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

func schemaVersion(conn *sql.DB) (int, error) {
	var version int
	err := conn.QueryRow(`SELECT version FROM schema_info LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// migrateV1 creates the content-addressable model catalog.
func migrateV1(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS models (
			hash TEXT PRIMARY KEY,
			file_size INTEGER NOT NULL,
			blake3_hash TEXT,
			sha256_hash TEXT,
			metadata TEXT,
			indexed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_modified DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS model_locations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			model_hash TEXT NOT NULL REFERENCES models(hash) ON DELETE CASCADE,
			relative_path TEXT NOT NULL UNIQUE,
			filename TEXT NOT NULL,
			file_size INTEGER NOT NULL,
			mtime DATETIME NOT NULL,
			last_seen DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_model_locations_hash ON model_locations(model_hash)`,
		`CREATE INDEX IF NOT EXISTS idx_model_locations_filename ON model_locations(filename)`,
		`CREATE TABLE IF NOT EXISTS model_sources (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			model_hash TEXT NOT NULL REFERENCES models(hash) ON DELETE CASCADE,
			source_type TEXT NOT NULL,
			source_url TEXT NOT NULL,
			added_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(model_hash, source_url)
		)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// migrateV2 adds the workflow analysis, node mapping, and resolution caches.
func migrateV2(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS workflow_analysis_cache (
			content_hash TEXT PRIMARY KEY,
			analysis TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS node_mappings (
			node_type TEXT PRIMARY KEY,
			package_ids TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS resolution_cache (
			cache_key TEXT PRIMARY KEY,
			result TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return err
		}
	}
	return nil
}
