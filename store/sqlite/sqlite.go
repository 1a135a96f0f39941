/*
Package sqlite provides the SQLite-backed forecast run log.

PURPOSE:
  Records one row of metadata per forecast trigger: which session asked for
  which store, how it ended and how long the fit took. Predictions and fitted
  models are never stored; every trigger re-fits from scratch.

KEY TABLES:
  forecast_runs: one row per trigger, keyed by a uuid

INDEXES:
  - idx_forecast_runs_store_created: run history of one store (dashboard list)
  - idx_forecast_runs_session:       runs of one browser session

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. The connection pool is capped at one
  connection so that ":memory:" databases are shared by every query.

WAL MODE:
  File databases are opened with WAL (Write-Ahead Logging):
  - Multiple readers don't block
  - Single writer at a time

USAGE:
  runs, err := sqlite.New(":memory:")
  if err != nil {
      log.Fatal(err)
  }
  defer runs.Close()

  _, err = runs.SaveRun(ctx, sqlite.ForecastRun{StoreID: 20, Status: sqlite.StatusCompleted})

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - api/handlers.go: CreateForecast records a run per trigger
  - api/ws.go: websocket triggers record runs too
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is fixed width so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrRunNotFound is returned by GetRun for an unknown id.
var ErrRunNotFound = errors.New("forecast run not found")

// RunStatus is the outcome of one forecast trigger.
type RunStatus string

const (
	StatusCompleted  RunStatus = "completed"
	StatusFailed     RunStatus = "failed"
	StatusSuperseded RunStatus = "superseded"
)

// ForecastRun is the audit record of one trigger.
type ForecastRun struct {
	ID         uuid.UUID `json:"id"`
	SessionID  string    `json:"session_id"`
	Seq        uint64    `json:"seq"`
	StoreID    int       `json:"store"`
	Status     RunStatus `json:"status"`
	TrainRows  int       `json:"train_rows"`
	ValidRows  int       `json:"validation_rows"`
	DurationMS int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store persists forecast runs in SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_journal_mode=WAL"
	if dbPath == ":memory:" {
		dsn = dbPath
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
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
	CREATE TABLE IF NOT EXISTS forecast_runs (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		store_id INTEGER NOT NULL,
		status TEXT NOT NULL,
		train_rows INTEGER NOT NULL DEFAULT 0,
		valid_rows INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_forecast_runs_store_created
		ON forecast_runs(store_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_forecast_runs_session
		ON forecast_runs(session_id, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// FORECAST RUNS
// =============================================================================

// SaveRun inserts a run. A zero ID or CreatedAt is filled in; the stored
// record is returned.
func (s *Store) SaveRun(ctx context.Context, r ForecastRun) (ForecastRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO forecast_runs (id, session_id, seq, store_id, status,
			train_rows, valid_rows, duration_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		r.ID.String(), r.SessionID, r.Seq, r.StoreID, string(r.Status),
		r.TrainRows, r.ValidRows, r.DurationMS, nullString(r.Error),
		r.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return r, fmt.Errorf("save forecast run: %w", err)
	}
	return r, nil
}

// GetRun returns one run by id.
func (s *Store) GetRun(ctx context.Context, id uuid.UUID) (*ForecastRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, session_id, seq, store_id, status, train_rows, valid_rows,
		       duration_ms, error, created_at
		FROM forecast_runs
		WHERE id = ?
	`

	runs, err := s.queryRuns(ctx, query, id.String())
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, ErrRunNotFound
	}
	return &runs[0], nil
}

// ListRuns returns the newest runs first. storeID 0 lists every store;
// limit <= 0 means no limit.
func (s *Store) ListRuns(ctx context.Context, storeID, limit int) ([]ForecastRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b strings.Builder
	var args []any
	b.WriteString(`
		SELECT id, session_id, seq, store_id, status, train_rows, valid_rows,
		       duration_ms, error, created_at
		FROM forecast_runs`)
	if storeID != 0 {
		b.WriteString(" WHERE store_id = ?")
		args = append(args, storeID)
	}
	b.WriteString(" ORDER BY created_at DESC, rowid DESC")
	if limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, limit)
	}

	return s.queryRuns(ctx, b.String(), args...)
}

func (s *Store) queryRuns(ctx context.Context, query string, args ...any) ([]ForecastRun, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []ForecastRun{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func scanRun(rows *sql.Rows) (ForecastRun, error) {
	var r ForecastRun
	var id, status, createdAt string
	var errText sql.NullString

	if err := rows.Scan(
		&id, &r.SessionID, &r.Seq, &r.StoreID, &status,
		&r.TrainRows, &r.ValidRows, &r.DurationMS, &errText, &createdAt,
	); err != nil {
		return r, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return r, fmt.Errorf("forecast run id %q: %w", id, err)
	}
	r.ID = parsed
	r.Status = RunStatus(status)
	r.Error = errText.String
	r.CreatedAt, err = time.Parse(timeLayout, createdAt)
	if err != nil {
		return r, fmt.Errorf("forecast run %s created_at %q: %w", id, createdAt, err)
	}
	return r, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// PruneRuns deletes runs created before cutoff and returns how many went.
func (s *Store) PruneRuns(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM forecast_runs WHERE created_at < ?",
		cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("prune forecast runs: %w", err)
	}
	return res.RowsAffected()
}

// Reset clears all runs (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, "DELETE FROM forecast_runs")
	return err
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
