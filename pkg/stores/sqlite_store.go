package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/fetchez/fetchez/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists run reports, per-entry outcomes, and events in a
// local SQLite database. It implements engine.RunStore.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	return &SQLiteStore{path: cfg.Path}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Connection-level setting; the DSN alone does not cover re-opened conns.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// SaveRun persists a run report and its per-entry outcomes. Saving the same
// run ID again replaces the previous record, so the engine can checkpoint a
// running report and overwrite it with the final one.
func (s *SQLiteStore) SaveRun(ctx context.Context, report *engine.RunReport) error {
	run, err := runFromReport(report)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, project, status, fetched, failed, skipped, error, report, started_at, completed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			fetched = excluded.fetched,
			failed = excluded.failed,
			skipped = excluded.skipped,
			error = excluded.error,
			report = excluded.report,
			completed_at = excluded.completed_at
	`,
		run.ID, run.Project, run.Status, run.Fetched, run.Failed, run.Skipped,
		run.Error, run.Report, run.StartedAt, run.CompletedAt, run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM entry_outcomes WHERE run_id = ?`, run.ID); err != nil {
		return fmt.Errorf("failed to clear entry outcomes: %w", err)
	}
	for _, o := range outcomesFromReport(report) {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO entry_outcomes (run_id, module, url, dst, status, weight, retry_count, error, meta, fetched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			o.RunID, o.Module, o.URL, o.Dst, o.Status, o.Weight, o.RetryCount,
			o.Error, o.Meta, o.FetchedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save entry outcome: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// GetRun retrieves a run report by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*engine.RunReport, error) {
	run := &Run{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project, status, fetched, failed, skipped, error, report, started_at, completed_at, created_at
		FROM runs
		WHERE id = ?
	`, runID).Scan(
		&run.ID, &run.Project, &run.Status, &run.Fetched, &run.Failed,
		&run.Skipped, &run.Error, &run.Report, &run.StartedAt,
		&run.CompletedAt, &run.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return reportFromRun(run)
}

// ListRuns returns the most recent run reports, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]*engine.RunReport, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project, status, fetched, failed, skipped, error, report, started_at, completed_at, created_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	reports := []*engine.RunReport{}
	for rows.Next() {
		run := &Run{}
		err := rows.Scan(
			&run.ID, &run.Project, &run.Status, &run.Fetched, &run.Failed,
			&run.Skipped, &run.Error, &run.Report, &run.StartedAt,
			&run.CompletedAt, &run.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		report, err := reportFromRun(run)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}
	return reports, nil
}

// DeleteRun deletes a run and its entry outcomes.
func (s *SQLiteStore) DeleteRun(ctx context.Context, runID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", runID)
	}
	return nil
}

// ListOutcomes returns the per-entry outcomes of a run, optionally filtered
// by status. An empty status returns all outcomes.
func (s *SQLiteStore) ListOutcomes(ctx context.Context, runID, status string) ([]*EntryOutcome, error) {
	query := `
		SELECT id, run_id, module, url, dst, status, weight, retry_count, error, meta, fetched_at
		FROM entry_outcomes
		WHERE run_id = ?
	`
	args := []interface{}{runID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entry outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []*EntryOutcome{}
	for rows.Next() {
		o := &EntryOutcome{}
		err := rows.Scan(
			&o.ID, &o.RunID, &o.Module, &o.URL, &o.Dst, &o.Status,
			&o.Weight, &o.RetryCount, &o.Error, &o.Meta, &o.FetchedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry outcome: %w", err)
		}
		outcomes = append(outcomes, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entry outcomes: %w", err)
	}
	return outcomes, nil
}

// Publish implements engine.EventSink, recording run events alongside the
// reports they belong to.
func (s *SQLiteStore) Publish(ctx context.Context, event *engine.Event) error {
	return s.SaveEvent(ctx, event)
}

// SaveEvent persists one run event.
func (s *SQLiteStore) SaveEvent(ctx context.Context, event *engine.Event) error {
	var module, url *string
	if event.Module != "" {
		module = &event.Module
	}
	if event.URL != "" {
		url = &event.URL
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, run_id, type, module, url, message, level, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID, event.RunID, string(event.Type), module, url,
		event.Message, event.Level, event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// ListEvents returns a run's events in chronological order.
func (s *SQLiteStore) ListEvents(ctx context.Context, runID string) ([]*StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, type, module, url, message, level, timestamp
		FROM events
		WHERE run_id = ?
		ORDER BY timestamp ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []*StoredEvent{}
	for rows.Next() {
		e := &StoredEvent{}
		err := rows.Scan(
			&e.ID, &e.RunID, &e.Type, &e.Module, &e.URL,
			&e.Message, &e.Level, &e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}

// PruneRuns deletes runs that completed before the cutoff, returning how
// many were removed. Events are pruned alongside since they have no
// foreign key back to runs.
func (s *SQLiteStore) PruneRuns(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE completed_at IS NOT NULL AND completed_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE run_id NOT IN (SELECT id FROM runs)`); err != nil {
		return n, fmt.Errorf("failed to prune events: %w", err)
	}
	return n, nil
}
