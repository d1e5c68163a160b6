package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// Database is the handle the repositories are built on. The concrete DB and
// the test instance both satisfy it, so callers never care which one they
// were wired with.
type Database interface {
	Conn() *sql.DB
	Close() error
	Migrate() error
}

// SQLiteWriteMutex serializes writes to the model index.
//
// SQLite allows a single writer even in WAL mode, and the index is shared
// by every environment operation in the process. The scanner's sync
// transaction takes this lock around its write so concurrent syncs queue
// instead of failing with SQLITE_BUSY; resolution-cache writes and
// node-mapping refreshes do not take it and rely on the connection's
// busy_timeout.
var SQLiteWriteMutex sync.Mutex

// DB wraps the workspace model index connection (.metadata/models.db).
type DB struct {
	conn *sql.DB
}

var _ Database = (*DB)(nil)

// New opens (creating if needed) the workspace model index database.
func New(databasePath string) (*DB, error) {
	// Ensure the directory exists before creating the database
	dbDir := filepath.Dir(databasePath)
	if dbDir != "." && dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dbDir, err)
		}
	}

	// Retry connection with exponential backoff for concurrent access
	maxRetries := 5
	baseDelay := 100 * time.Millisecond

	var conn *sql.DB
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		conn, err = sql.Open("sqlite", databasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		conn.SetMaxOpenConns(10)
		conn.SetMaxIdleConns(5)

		if err := conn.Ping(); err != nil {
			if attempt == maxRetries-1 {
				return nil, fmt.Errorf("failed to ping database after %d attempts: %w", maxRetries, err)
			}

			conn.Close()
			delay := baseDelay * time.Duration(1<<uint(attempt))
			time.Sleep(delay)
			continue
		}
		break
	}

	// Enable foreign key constraints so location and source rows cascade
	// when a model row is deleted
	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign key constraints: %w", err)
	}

	// Enable WAL mode for better concurrency (multiple readers + 1 writer)
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Wait for locked database rather than failing fast
	if _, err := conn.Exec("PRAGMA busy_timeout = 30000"); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := conn.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	return &DB{conn: conn}, nil
}

func (db *DB) Close() error {
	db.conn.SetMaxOpenConns(0)
	db.conn.SetMaxIdleConns(0)
	db.conn.SetConnMaxLifetime(0)

	return db.conn.Close()
}

// Conn returns the underlying SQL connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Migrate brings the schema up to the current version
func (db *DB) Migrate() error {
	return RunMigrations(db.conn)
}

// TestDB is a migrated model index in a temp directory, removed with the
// test that created it.
type TestDB struct {
	db *DB
}

var _ Database = (*TestDB)(nil)

// NewTest creates a fresh index database for a test.
func NewTest(tb testing.TB) (*TestDB, error) {
	tempDir := tb.TempDir()
	dbPath := filepath.Join(tempDir, "models.db")

	database, err := New(dbPath)
	if err != nil {
		return nil, err
	}

	if err := RunMigrations(database.conn); err != nil {
		database.Close()
		return nil, err
	}

	return &TestDB{db: database}, nil
}

// Conn returns the SQL connection (implements Database)
func (tdb *TestDB) Conn() *sql.DB {
	return tdb.db.conn
}

// Close closes the test database (implements Database)
func (tdb *TestDB) Close() error {
	return tdb.db.Close()
}

// Migrate runs migrations (implements Database)
func (tdb *TestDB) Migrate() error {
	return RunMigrations(tdb.db.conn)
}
