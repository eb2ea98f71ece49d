package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ErrJobNotFound is returned when a stored job does not exist.
var ErrJobNotFound = errors.New("job not found")

// StoredJob is a scheduled job as persisted in the job store.
type StoredJob struct {
	ID        string
	Name      string
	Interval  time.Duration
	NextRun   time.Time
	Paused    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// JobStore persists scheduled jobs in SQLite so they survive restarts.
type JobStore struct {
	db *sql.DB
}

// OpenJobStore opens or creates the SQLite job store at path. An empty path
// or ":memory:" gives an in-memory store.
func OpenJobStore(path string) (*JobStore, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open job store: %w", err)
	}
	// One connection: an in-memory database is private to its connection.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}

	s := NewJobStore(db)
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewJobStore wraps an existing database handle without touching the schema.
func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

// Close closes the database connection.
func (s *JobStore) Close() error {
	return s.db.Close()
}

// Migrate creates the jobs table and adds columns missing from older files.
func (s *JobStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS scheduled_jobs (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL,
		interval_ms     INTEGER NOT NULL,
		next_run_ms     INTEGER NOT NULL,
		created_at_ms   INTEGER NOT NULL,
		updated_at_ms   INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("create job schema: %w", err)
	}

	var count int
	err = s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pragma_table_info('scheduled_jobs') WHERE name='paused'`).Scan(&count)
	if err != nil {
		return fmt.Errorf("inspect job schema: %w", err)
	}
	if count == 0 {
		_, err := s.db.ExecContext(ctx, `ALTER TABLE scheduled_jobs ADD COLUMN paused INTEGER NOT NULL DEFAULT 0`)
		if err != nil && !strings.Contains(err.Error(), "duplicate column") {
			return fmt.Errorf("migrate job schema: %w", err)
		}
	}
	return nil
}

// SaveJob inserts a job or replaces the one with the same id.
func (s *JobStore) SaveJob(ctx context.Context, j StoredJob) error {
	now := time.Now()
	if j.CreatedAt.IsZero() {
		j.CreatedAt = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (id, name, interval_ms, next_run_ms, paused, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			interval_ms = excluded.interval_ms,
			next_run_ms = excluded.next_run_ms,
			paused = excluded.paused,
			updated_at_ms = excluded.updated_at_ms
	`, j.ID, j.Name, j.Interval.Milliseconds(), j.NextRun.UnixMilli(), boolToInt(j.Paused),
		j.CreatedAt.UnixMilli(), now.UnixMilli())
	if err != nil {
		return fmt.Errorf("save job %s: %w", j.ID, err)
	}
	return nil
}

// UpdateNextRun records the next fire time of a job.
func (s *JobStore) UpdateNextRun(ctx context.Context, id string, next time.Time) error {
	return s.update(ctx, id, `UPDATE scheduled_jobs SET next_run_ms = ?, updated_at_ms = ? WHERE id = ?`,
		next.UnixMilli(), time.Now().UnixMilli(), id)
}

// SetPaused pauses or resumes a job.
func (s *JobStore) SetPaused(ctx context.Context, id string, paused bool) error {
	return s.update(ctx, id, `UPDATE scheduled_jobs SET paused = ?, updated_at_ms = ? WHERE id = ?`,
		boolToInt(paused), time.Now().UnixMilli(), id)
}

func (s *JobStore) update(ctx context.Context, id, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// DeleteJob removes one job.
func (s *JobStore) DeleteJob(ctx context.Context, id string) error {
	return s.update(ctx, id, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
}

// DeleteAllJobs removes every job.
func (s *JobStore) DeleteAllJobs(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs`); err != nil {
		return fmt.Errorf("delete jobs: %w", err)
	}
	return nil
}

// ListJobs returns every stored job ordered by id.
func (s *JobStore) ListJobs(ctx context.Context) ([]StoredJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, interval_ms, next_run_ms, paused, created_at_ms, updated_at_ms
		FROM scheduled_jobs
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []StoredJob
	for rows.Next() {
		var j StoredJob
		var intervalMs, nextMs, createdMs, updatedMs int64
		var paused int
		if err := rows.Scan(&j.ID, &j.Name, &intervalMs, &nextMs, &paused, &createdMs, &updatedMs); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.Interval = time.Duration(intervalMs) * time.Millisecond
		j.NextRun = time.UnixMilli(nextMs).UTC()
		j.Paused = paused != 0
		j.CreatedAt = time.UnixMilli(createdMs).UTC()
		j.UpdatedAt = time.UnixMilli(updatedMs).UTC()
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
