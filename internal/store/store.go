package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking for the system tables:
// 1 - structures registry table
const currentSchemaVersion = 1

// Store provides durable storage for structure definitions and their
// records: the structures registry table plus one data table per
// structure, all in a single SQLite file.
type Store struct {
	db *sql.DB
}

// Open creates or opens the database at path, configures it and brings
// the registry tables up to the current layout. Idempotent: reopening an
// existing database only re-applies pragmas and pending migrations.
//
// The pool is capped at one connection. SQLite allows a single writer
// anyway, and the cap turns would-be SQLITE_BUSY failures into ordinary
// queueing on the pool.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize registry tables: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer using Store methods when available.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Query executes a query and returns the resulting rows.
// Callers are responsible for closing the returned rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

// applyPragmas configures the connection. WAL keeps list/stream readers
// off the writer's back, busy_timeout matches the registry's lock
// timeout, and foreign_keys arms the parent_id self-reference that
// cascade deletes rely on.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("exec %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates the registry tables if needed and runs pending
// migrations on them.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("exec registry schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("migrate registry tables: %w", err)
	}

	return nil
}

// runMigrations applies incremental system-table migrations based on
// user_version. Data-table migrations are the synchronizer's job, not
// this function's.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	// No incremental steps yet; version 1 is the initial layout.

	if version < currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}

	return nil
}

// nowUTC returns the current time formatted for TEXT timestamp columns.
func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// parseTime parses a TEXT timestamp column value.
// Zero time on parse failure; timestamps are system-written so a failure
// indicates manual tampering, not a caller error.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
