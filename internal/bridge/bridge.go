// Package bridge implements the Windows bus bridge: a SQLite-backed
// hand-off table between srmqproxy (which drains the Windows client queue
// off the durable bus) and srwebmq (which the Windows worker itself polls
// over HTTP, since it cannot hold a long-lived connection behind an
// interface the DNS agent toggles). Follows the pool-and-schema store shape
// used elsewhere in this codebase, adapted from Postgres/pgx to
// database/sql + modernc.org/sqlite, the pure-Go, CGo-free choice for this
// kind of embedded single-file database (see DESIGN.md).
package bridge

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed runs table described by §4.15:
// runs(id INTEGER PK, config TEXT, done BOOL).
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite file at path and ensures the
// runs table exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("bridge: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writes; avoid SQLITE_BUSY under concurrent access

	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			config TEXT NOT NULL,
			done BOOLEAN NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return fmt.Errorf("bridge: ensure schema: %w", err)
	}
	return nil
}

// Insert adds a new pending row holding config (the JSON-encoded client
// message a Windows worker will eventually receive via Next).
func (s *Store) Insert(ctx context.Context, config string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO runs (config, done) VALUES (?, 0)`, config)
	if err != nil {
		return fmt.Errorf("bridge: insert: %w", err)
	}
	return nil
}

// Next atomically claims and returns the oldest pending (done=false) row,
// marking it done within the same transaction. ok is false when the table
// has no pending work, matching §4.15's "empty body when there is nothing
// pending" contract — no periodic purge of done=true rows is performed,
// per spec's own silence on the matter.
func (s *Store) Next(ctx context.Context) (config string, ok bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("bridge: begin: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, `SELECT id, config FROM runs WHERE done = 0 ORDER BY id ASC LIMIT 1`).Scan(&id, &config)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("bridge: query next: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE runs SET done = 1 WHERE id = ?`, id); err != nil {
		return "", false, fmt.Errorf("bridge: mark done: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("bridge: commit: %w", err)
	}
	return config, true, nil
}
