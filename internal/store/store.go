// Package store implements the embedded SQL persistence layer (spec
// component C1): schema bootstrap, WAL pragmas, and one short transaction
// per state-changing operation. Every exported method here either commits
// or rolls back before returning — no operation leaves a transaction open
// across a call boundary, which is what lets the JobManager treat Store
// calls as atomic checkpoints.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaFS embed.FS

// SchemaVersion is bumped whenever schema.sql's shape changes incompatibly.
// It is recorded in the meta table's "schema_version" row on bootstrap and
// checked on every open.
const SchemaVersion = "1"

// Store wraps the database/sql handle for one library root's index.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates (if needed) and opens the SQLite database at
// <libraryRoot>/.slidemanager/index.sqlite, applying the pragmas spec 4.1
// mandates: WAL journal, normal sync, foreign keys on, a 5 second busy
// timeout, and an in-memory temp store.
func Open(ctx context.Context, libraryRoot string) (*Store, error) {
	dir := filepath.Join(libraryRoot, ".slidemanager")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	dbPath := filepath.Join(dir, "index.sqlite")

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on&_busy_timeout=5000", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// SQLite only supports one writer at a time; a single connection avoids
	// SQLITE_BUSY storms under the Go driver's internal pool.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA temp_store = MEMORY"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting temp_store pragma: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.bootstrap(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the on-disk path of the SQLite file.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) bootstrap(ctx context.Context) error {
	schema, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("reading embedded schema: %w", err)
	}

	version, err := s.readMetaVersion(ctx)
	if err != nil {
		return err
	}

	if version == "" {
		if _, err := s.db.ExecContext(ctx, string(schema)); err != nil {
			return fmt.Errorf("applying schema: %w", err)
		}
		if _, err := s.db.ExecContext(ctx,
			"INSERT INTO meta (key, value) VALUES ('schema_version', ?)", SchemaVersion); err != nil {
			return fmt.Errorf("recording schema_version: %w", err)
		}
		return nil
	}

	if version != SchemaVersion {
		return s.handleSchemaMismatch(version)
	}
	return nil
}

func (s *Store) readMetaVersion(ctx context.Context) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'schema_version'").Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		return "", nil
	case err != nil:
		// meta table itself may not exist yet on a pre-bootstrap database.
		return "", nil
	default:
		return version, nil
	}
}

// handleSchemaMismatch implements spec 7's store-corruption handling:
// preserve the raw database file with a .bak suffix before any auto-migration
// attempt, then fail loudly rather than guess at a migration path we don't
// have.
func (s *Store) handleSchemaMismatch(foundVersion string) error {
	backupPath := s.path + "." + time.Now().UTC().Format("20060102T150405") + ".bak"
	if err := copyFile(s.path, backupPath); err != nil {
		return fmt.Errorf("schema version mismatch (found %s, want %s) and backup failed: %w", foundVersion, SchemaVersion, err)
	}
	return fmt.Errorf("schema version mismatch: found %s, want %s; original preserved at %s", foundVersion, SchemaVersion, backupPath)
}

func copyFile(src, dst string) error {
	in, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, in, 0o644)
}

// nowUnix is the store's single source of wall-clock time, isolated so tests
// can't drift between calls within one logical operation.
func nowUnix() int64 {
	return time.Now().Unix()
}
