// Package sqlitesource implements a Source backed by a local SQLite
// database. It is the reference source: single-process, synchronous
// callbacks, useful for tests, tooling and offline-first hosts that sync
// the database file by other means.
package sqlitesource

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/undertow/internal/schema"
	"github.com/roach88/undertow/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added idx_records_type_seq for delta scans
const currentSchemaVersion = 1

// Source serves fetches and commits from a SQLite database.
//
// Callbacks into the attached store are synchronous: this source never
// returns "handled" without also having delivered its results. Hosts that
// want asynchronous delivery wrap the calls in their own tick loop.
type Source struct {
	db      *sql.DB
	schemas *schema.Registry

	// store receives the SourceDid* callbacks. Set by Attach.
	store *store.Store
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string, schemas *schema.Registry) (*Source, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Source{db: db, schemas: schemas}, nil
}

// Attach wires the store that receives fetch and commit callbacks.
func (s *Source) Attach(st *store.Store) {
	s.store = st
}

// Close closes the database connection.
func (s *Source) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries.
// Use with caution - prefer the Source methods when available.
func (s *Source) DB() *sql.DB {
	return s.db
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
		version = 1
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the delta-scan index for databases created before the
// schema carried it. CREATE INDEX IF NOT EXISTS is a no-op otherwise.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_records_type_seq
		ON records(type, seq)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// clock returns the current sequence for a type, 0 when unseen.
func (s *Source) clock(typeName string) (int64, error) {
	var seq int64
	err := s.db.QueryRow("SELECT seq FROM type_clock WHERE type = ?", typeName).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read clock for %s: %w", typeName, err)
	}
	return seq, nil
}

// bumpClock advances and returns the sequence for a type within tx.
func bumpClock(tx *sql.Tx, typeName string) (int64, error) {
	_, err := tx.Exec(`
		INSERT INTO type_clock (type, seq) VALUES (?, 1)
		ON CONFLICT(type) DO UPDATE SET seq = seq + 1
	`, typeName)
	if err != nil {
		return 0, fmt.Errorf("bump clock for %s: %w", typeName, err)
	}
	var seq int64
	if err := tx.QueryRow("SELECT seq FROM type_clock WHERE type = ?", typeName).Scan(&seq); err != nil {
		return 0, fmt.Errorf("read bumped clock for %s: %w", typeName, err)
	}
	return seq, nil
}
