// Package collector is the collection side of the render protocol: it stores
// submitted page outcomes, keeps their snapshots on disk, compares them with
// reference snapshots and answers the run-termination request.
package collector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Common errors
var (
	ErrUnknownDriver = errors.New("unknown database driver")
)

// Comparison is the verdict of checking a snapshot against its reference
type Comparison string

const (
	ComparisonNone     Comparison = ""
	ComparisonMatch    Comparison = "match"
	ComparisonMismatch Comparison = "mismatch"
	ComparisonNew      Comparison = "new"
)

// Result is one stored page outcome. (Browser, TaskID, Round, Page) is unique.
type Result struct {
	ID           uuid.UUID  `json:"id"`
	Browser      string     `json:"browser"`
	TaskID       string     `json:"taskId"`
	File         string     `json:"file"`
	Round        int        `json:"round"`
	Page         int        `json:"page"`
	NumPages     int        `json:"numPages"`
	Failure      string     `json:"failure,omitempty"`
	SnapshotPath string     `json:"snapshotPath,omitempty"`
	Comparison   Comparison `json:"comparison,omitempty"`
	Attempts     int        `json:"attempts"`
	ReceivedAt   time.Time  `json:"receivedAt"`
}

// Summary aggregates the results of one browser
type Summary struct {
	Browser    string `json:"browser"`
	Total      int    `json:"total"`
	Failed     int    `json:"failed"`
	Mismatched int    `json:"mismatched"`
	New        int    `json:"new"`
}

// DB represents a database connection interface.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS results (
		id TEXT PRIMARY KEY,
		browser TEXT NOT NULL,
		task_id TEXT NOT NULL,
		file TEXT NOT NULL,
		round INTEGER NOT NULL,
		page INTEGER NOT NULL,
		num_pages INTEGER NOT NULL,
		failure TEXT NOT NULL DEFAULT '',
		snapshot_path TEXT NOT NULL DEFAULT '',
		comparison TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 1,
		received_at TIMESTAMP NOT NULL,
		UNIQUE (browser, task_id, round, page)
	)`,
	`CREATE TABLE IF NOT EXISTS quit_requests (
		id TEXT PRIMARY KEY,
		app_path TEXT NOT NULL,
		received_at TIMESTAMP NOT NULL
	)`,
}

// Store persists results in SQLite or PostgreSQL
type Store struct {
	db     DB
	closer func() error
}

// OpenStore connects to the database and creates the schema. driver is
// "sqlite" or "postgres".
func OpenStore(ctx context.Context, driver, dsn string) (*Store, error) {
	var sqlDriver string
	switch driver {
	case "sqlite", "sqlite3":
		sqlDriver = "sqlite3"
	case "postgres", "postgresql":
		sqlDriver = "postgres"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if sqlDriver == "sqlite3" {
		// one writer; handlers run concurrently
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := NewStore(db)
	s.closer = db.Close
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing connection. The schema is not created.
func NewStore(db DB) *Store {
	return &Store{db: db}
}

// Migrate creates the tables if they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// UpsertResult stores res, replacing any earlier submission for the same
// page. A replaced row keeps its ID and has its attempt count bumped.
func (s *Store) UpsertResult(ctx context.Context, res *Result) error {
	if res.ID == uuid.Nil {
		res.ID = uuid.New()
	}
	if res.ReceivedAt.IsZero() {
		res.ReceivedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO results (id, browser, task_id, file, round, page, num_pages,
			failure, snapshot_path, comparison, attempts, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11)
		ON CONFLICT (browser, task_id, round, page) DO UPDATE SET
			file = excluded.file,
			num_pages = excluded.num_pages,
			failure = excluded.failure,
			snapshot_path = excluded.snapshot_path,
			comparison = excluded.comparison,
			attempts = results.attempts + 1,
			received_at = excluded.received_at
		RETURNING id, attempts
	`
	err := s.db.QueryRowContext(ctx, query,
		res.ID.String(), res.Browser, res.TaskID, res.File, res.Round, res.Page, res.NumPages,
		res.Failure, res.SnapshotPath, string(res.Comparison), res.ReceivedAt,
	).Scan(&res.ID, &res.Attempts)
	if err != nil {
		return fmt.Errorf("upsert result %s/%s r%d p%d: %w", res.Browser, res.TaskID, res.Round, res.Page, err)
	}
	return nil
}

// ListResults returns the stored results of browser ordered by task, round
// and page. An empty browser lists every result.
func (s *Store) ListResults(ctx context.Context, browser string) ([]*Result, error) {
	query := `
		SELECT id, browser, task_id, file, round, page, num_pages,
			failure, snapshot_path, comparison, attempts, received_at
		FROM results
		WHERE ($1 = '' OR browser = $1)
		ORDER BY browser, task_id, round, page
	`
	rows, err := s.db.QueryContext(ctx, query, browser)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	defer rows.Close()

	var results []*Result
	for rows.Next() {
		res := &Result{}
		var comparison string
		if err := rows.Scan(
			&res.ID, &res.Browser, &res.TaskID, &res.File, &res.Round, &res.Page, &res.NumPages,
			&res.Failure, &res.SnapshotPath, &comparison, &res.Attempts, &res.ReceivedAt,
		); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		res.Comparison = Comparison(comparison)
		results = append(results, res)
	}
	return results, rows.Err()
}

// Summaries aggregates the stored results per browser
func (s *Store) Summaries(ctx context.Context) ([]Summary, error) {
	query := `
		SELECT browser,
			COUNT(*),
			SUM(CASE WHEN failure <> '' THEN 1 ELSE 0 END),
			SUM(CASE WHEN comparison = 'mismatch' THEN 1 ELSE 0 END),
			SUM(CASE WHEN comparison = 'new' THEN 1 ELSE 0 END)
		FROM results
		GROUP BY browser
		ORDER BY browser
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("summarise results: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var sum Summary
		if err := rows.Scan(&sum.Browser, &sum.Total, &sum.Failed, &sum.Mismatched, &sum.New); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// RecordQuit stores a run-termination request
func (s *Store) RecordQuit(ctx context.Context, appPath string) error {
	query := `INSERT INTO quit_requests (id, app_path, received_at) VALUES ($1, $2, $3)`
	if _, err := s.db.ExecContext(ctx, query, uuid.NewString(), appPath, time.Now().UTC()); err != nil {
		return fmt.Errorf("record quit: %w", err)
	}
	return nil
}

// CountQuits returns how many termination requests were received
func (s *Store) CountQuits(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM quit_requests`).Scan(&n)
	return n, err
}

// Close releases the connection when the store opened it
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
