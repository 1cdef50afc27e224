// Package runstore is an optional audit trail: it records each run
// request's lifecycle (submitted, dispatched, completed, failed) to
// Postgres so a dashboard or cmd/srenqueuer can answer "what ran, and
// when". The original system has no equivalent; it follows the
// pgxpool-backed store shape used elsewhere in this codebase.
package runstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oriys/stoneridge/internal/model"
)

// Status is a run's lifecycle state as tracked by the audit trail.
type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusDispatched Status = "dispatched"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Record is one row of run history.
type Record struct {
	Srid            string
	Netconfig       model.Netconfig
	OperatingSystem model.OperatingSystem
	Attempt         int
	Status          Status
	Message         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Store is a Postgres-backed run-history audit trail.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to dsn and ensures the run_history table exists.
func New(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("runstore: dsn is required")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("runstore: create pool: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("runstore: ping: %w", err)
	}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS run_history (
			srid TEXT NOT NULL,
			attempt INTEGER NOT NULL,
			netconfig TEXT NOT NULL,
			operating_system TEXT NOT NULL,
			status TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (srid, attempt)
		)`)
	if err != nil {
		return fmt.Errorf("runstore: ensure schema: %w", err)
	}
	return nil
}

// Record upserts a run's status, updating updated_at on conflict but
// leaving the original created_at untouched.
func (s *Store) Record(ctx context.Context, r Record) error {
	if r.Srid == "" {
		return fmt.Errorf("runstore: srid is required")
	}
	now := time.Now()

	_, err := s.pool.Exec(ctx, `
		INSERT INTO run_history (srid, attempt, netconfig, operating_system, status, message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (srid, attempt) DO UPDATE SET
			status = EXCLUDED.status,
			message = EXCLUDED.message,
			updated_at = EXCLUDED.updated_at
	`, r.Srid, r.Attempt, string(r.Netconfig), string(r.OperatingSystem), string(r.Status), r.Message, now)
	if err != nil {
		return fmt.Errorf("runstore: record %s attempt %d: %w", r.Srid, r.Attempt, err)
	}
	return nil
}

// Get returns every recorded attempt for srid, oldest first.
func (s *Store) Get(ctx context.Context, srid string) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT srid, attempt, netconfig, operating_system, status, message, created_at, updated_at
		FROM run_history WHERE srid = $1 ORDER BY attempt ASC
	`, srid)
	if err != nil {
		return nil, fmt.Errorf("runstore: get %s: %w", srid, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Recent returns the most recently updated limit records across all runs.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT srid, attempt, netconfig, operating_system, status, message, created_at, updated_at
		FROM run_history ORDER BY updated_at DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("runstore: recent: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var r Record
		var netconfig, osName, status string
		if err := rows.Scan(&r.Srid, &r.Attempt, &netconfig, &osName, &status, &r.Message, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("runstore: scan: %w", err)
		}
		r.Netconfig = model.Netconfig(netconfig)
		r.OperatingSystem = model.OperatingSystem(osName)
		r.Status = Status(status)
		records = append(records, r)
	}
	return records, rows.Err()
}
