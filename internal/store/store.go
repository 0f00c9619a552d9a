// Package store manages the SQLite database holding the journal: categories,
// entries, their child rows, photos, and the tombstone log of local deletions
// the remote has not yet acknowledged.
//
// Only this package may open or query the database. All other packages receive
// a [*Store] and call its methods.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/flavordex/flavorsync/internal/model"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// ErrPendingEntries is returned by [Store.DeleteCategoryByUUID] when the
// category still owns entries with unpushed local changes.
var ErrPendingEntries = errors.New("category has unpushed entries")

const schema = `
CREATE TABLE IF NOT EXISTS categories (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid      TEXT    NOT NULL UNIQUE,
    name      TEXT    NOT NULL,
    preset    INTEGER NOT NULL DEFAULT 0,
    synced    INTEGER NOT NULL DEFAULT 0,
    published INTEGER NOT NULL DEFAULT 0,
    updated   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS extras (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid    TEXT    NOT NULL UNIQUE,
    cat     INTEGER NOT NULL REFERENCES categories (id) ON DELETE CASCADE,
    name    TEXT    NOT NULL,
    pos     INTEGER NOT NULL DEFAULT 0,
    deleted INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS flavors (
    id   INTEGER PRIMARY KEY AUTOINCREMENT,
    cat  INTEGER NOT NULL REFERENCES categories (id) ON DELETE CASCADE,
    name TEXT    NOT NULL,
    pos  INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS entries (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    uuid      TEXT    NOT NULL UNIQUE,
    cat       INTEGER NOT NULL REFERENCES categories (id) ON DELETE CASCADE,
    title     TEXT    NOT NULL,
    maker     TEXT    NOT NULL DEFAULT '',
    origin    TEXT    NOT NULL DEFAULT '',
    price     TEXT    NOT NULL DEFAULT '',
    location  TEXT    NOT NULL DEFAULT '',
    date      INTEGER NOT NULL DEFAULT 0,
    rating    REAL    NOT NULL DEFAULT 0,
    notes     TEXT    NOT NULL DEFAULT '',
    synced    INTEGER NOT NULL DEFAULT 0,
    published INTEGER NOT NULL DEFAULT 0,
    updated   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS entries_extras (
    id    INTEGER PRIMARY KEY AUTOINCREMENT,
    entry INTEGER NOT NULL REFERENCES entries (id) ON DELETE CASCADE,
    extra INTEGER NOT NULL REFERENCES extras (id) ON DELETE CASCADE,
    value TEXT    NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS entries_flavors (
    id     INTEGER PRIMARY KEY AUTOINCREMENT,
    entry  INTEGER NOT NULL REFERENCES entries (id) ON DELETE CASCADE,
    flavor TEXT    NOT NULL,
    value  INTEGER NOT NULL DEFAULT 0,
    pos    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS photos (
    id      INTEGER PRIMARY KEY AUTOINCREMENT,
    entry   INTEGER NOT NULL REFERENCES entries (id) ON DELETE CASCADE,
    hash    TEXT    NOT NULL DEFAULT '',
    blob_id TEXT    NOT NULL DEFAULT '',
    path    TEXT    NOT NULL DEFAULT '',
    pos     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS deleted (
    id   INTEGER PRIMARY KEY AUTOINCREMENT,
    type INTEGER NOT NULL,
    ref  TEXT    NOT NULL,
    time INTEGER NOT NULL,
    UNIQUE (type, ref)
);

CREATE TABLE IF NOT EXISTS sync_meta (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_extras_cat       ON extras (cat);
CREATE INDEX IF NOT EXISTS idx_flavors_cat      ON flavors (cat);
CREATE INDEX IF NOT EXISTS idx_entries_cat      ON entries (cat);
CREATE INDEX IF NOT EXISTS idx_entries_synced   ON entries (synced);
CREATE INDEX IF NOT EXISTS idx_categories_synced ON categories (synced);
CREATE INDEX IF NOT EXISTS idx_entries_extras   ON entries_extras (entry);
CREATE INDEX IF NOT EXISTS idx_entries_flavors  ON entries_flavors (entry);
CREATE INDEX IF NOT EXISTS idx_photos_entry     ON photos (entry);
CREATE INDEX IF NOT EXISTS idx_photos_hash      ON photos (hash);
`

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the SQLite-backed journal repository.
type Store struct {
	db  *sql.DB
	now func() int64
}

// DefaultDBPath returns the default path for the journal database:
// ~/.local/share/flavorsync/flavordex.db
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "flavorsync", "flavordex.db"), nil
}

// Open opens (or creates) the SQLite database at path, applies the schema, and
// configures WAL mode and foreign keys.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}

	// Single writer to avoid SQLITE_BUSY under WAL. Callers must never hold a
	// *sql.Rows open while issuing another query.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &Store{db: db, now: model.NowMillis}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetClock replaces the clock used to stamp local modifications.
func (s *Store) SetClock(now func() int64) {
	s.now = now
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

// withTx runs fn inside a transaction, committing on success and rolling back
// on error or panic.
func (s *Store) withTx(ctx context.Context, fn func(q querier) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

// exec renders and runs a squirrel statement.
func exec(ctx context.Context, q querier, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building statement: %w", err)
	}
	return q.ExecContext(ctx, query, args...)
}

// queryRow renders a squirrel select and returns its single row.
func queryRow(ctx context.Context, q querier, b sq.SelectBuilder) (*sql.Row, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	return q.QueryRowContext(ctx, query, args...), nil
}

// queryAll renders a squirrel select and scans every row with scan. The rows
// are fully drained and closed before returning.
func queryAll[T any](ctx context.Context, q querier, b sq.SelectBuilder, scan func(scanner) (T, error)) ([]T, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building query: %w", err)
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// scanner matches both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// lookupID returns the local id of the row in table with the given column value.
func lookupID(ctx context.Context, q querier, table, column string, value any) (int64, error) {
	row, err := queryRow(ctx, q, sq.Select("id").From(table).Where(sq.Eq{column: value}))
	if err != nil {
		return 0, err
	}
	var id int64
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return id, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// notFound maps sql.ErrNoRows to ErrNotFound and passes other errors through.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
