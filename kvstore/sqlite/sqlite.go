/*
Package sqlite provides the SQLite-backed key-value store.

PURPOSE:
  Durable implementation of kvstore.Store. One kv table, upsert writes,
  prefix scans for snapshot-history listing.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging):
  - readers don't block on the single writer
  - better crash recovery

CONCURRENCY:
  The engine is single-writer by design; database/sql's pool plus WAL is
  enough, no extra locking here.

USAGE:
  store, err := sqlite.New("./data/ledger.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - kvstore/kvstore.go: interface definition and memory implementation
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Store implements kvstore.Store on SQLite.
type Store struct {
	db *sqlx.DB
}

// New opens (or creates) the database at path and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: the engine is single-writer, and this also makes
	// ":memory:" databases behave (each pooled conn would otherwise get
	// its own empty database).
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get returns (nil, nil) for a missing key, matching the contract.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.GetContext(ctx, &value, `SELECT value FROM kv WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kv get %q: %w", key, err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("kv set %q: %w", key, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("kv remove %q: %w", key, err)
	}
	return nil
}

// Keys lists keys with the given prefix, sorted ascending. Prefixes here
// are engine-chosen constants, so no LIKE-metacharacter escaping is done.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.db.SelectContext(ctx, &keys,
		`SELECT key FROM kv WHERE key LIKE ? ORDER BY key ASC`, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("kv keys %q: %w", prefix, err)
	}
	return keys, nil
}
