/*
Package sqlite provides a SQLite-backed pos.Store.

PURPOSE:
  Embedded single-file storage for one till or a small back office. The
  SQL is shared with PostgreSQL through sqlstore; this package only
  supplies the dialect and the connection settings.

CONCURRENCY:
  SQLite has a single writer. The pool is limited to one connection and
  every atomic unit holds the store mutex, so two sales never interleave
  inside this process. SQLITE_BUSY from another process is reported as
  pos.ErrConflict and retried by the engine.

WAL MODE:
  The database is opened with WAL (Write-Ahead Logging):
  - Readers don't block the writer
  - Better crash recovery

USAGE:
  store, err := sqlite.New(ctx, "./data/pos.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := pos.NewEngine(store)

SEE ALSO:
  - store/sqlstore: shared schema and queries
  - pos/store/memory.go: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/pos-engine/store/sqlstore"
)

// Dialect is the sqlstore dialect for SQLite.
var Dialect = sqlstore.Dialect{
	Name:              "sqlite3",
	SeqColumn:         "seq INTEGER PRIMARY KEY AUTOINCREMENT",
	SerializeWriters:  true,
	IsConflict:        isConflict,
	IsUniqueViolation: isUniqueViolation,
}

// New opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(ctx context.Context, path string) (*sqlstore.Store, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: ":memory:" databases are per-connection, and SQLite
	// allows a single writer anyway.
	db.SetMaxOpenConns(1)

	store, err := sqlstore.Open(ctx, db, Dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func dsn(path string) string {
	params := "_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000"
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}

func isConflict(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
