// Package state persists run history in SQLite: runs, their jobs, and their
// steps, with enough detail to power the status API and `gantry history`.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gantryci/gantry/internal/runner"
)

// ErrRunNotFound is returned when a run ID is unknown.
var ErrRunNotFound = errors.New("run not found")

// Store implements run history persistence on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore opens (and initializes) a run history store.
// Use ":memory:" for an in-memory database, or a file path for persistent storage.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		pipeline TEXT NOT NULL,
		status TEXT NOT NULL,
		exit_code INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		channel TEXT NOT NULL,
		allow_failure INTEGER NOT NULL,
		status TEXT NOT NULL,
		exit_code INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		error TEXT
	);
	CREATE TABLE IF NOT EXISTS steps (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id INTEGER NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		idx INTEGER NOT NULL,
		phase TEXT NOT NULL,
		command TEXT NOT NULL,
		status TEXT NOT NULL,
		exit_code INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		output TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_run ON jobs(run_id);
	CREATE INDEX IF NOT EXISTS idx_steps_job ON steps(job_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// RecordRun persists a completed run with its jobs and steps in one
// transaction.
func (s *Store) RecordRun(ctx context.Context, run *runner.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO runs (id, pipeline, status, exit_code, started_at, finished_at, duration_ms) VALUES (?, ?, ?, ?, ?, ?, ?)",
		run.ID, run.Pipeline, string(run.Status), run.ExitCode,
		run.StartTime.Unix(), run.EndTime.Unix(), run.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, job := range run.Jobs {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO jobs (run_id, name, channel, allow_failure, status, exit_code, duration_ms, error) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			run.ID, job.Name, string(job.Channel), boolToInt(job.AllowFailure),
			string(job.Status), job.ExitCode, job.Duration.Milliseconds(), job.Error,
		)
		if err != nil {
			return fmt.Errorf("insert job %s: %w", job.Name, err)
		}
		jobID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("job insert id: %w", err)
		}

		for idx, step := range job.Steps {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO steps (job_id, idx, phase, command, status, exit_code, duration_ms, output) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
				jobID, idx, string(step.Phase), step.Command,
				string(step.Status), step.ExitCode, step.Duration.Milliseconds(), step.Output,
			)
			if err != nil {
				return fmt.Errorf("insert step %d of job %s: %w", idx, job.Name, err)
			}
		}
	}

	return tx.Commit()
}

// RunSummary is one row of run history.
type RunSummary struct {
	ID         string    `json:"id"`
	Pipeline   string    `json:"pipeline"`
	Status     string    `json:"status"`
	ExitCode   int       `json:"exit_code"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DurationMS int64     `json:"duration_ms"`
}

// JobRecord is a stored job with its steps.
type JobRecord struct {
	Name         string       `json:"name"`
	Channel      string       `json:"channel"`
	AllowFailure bool         `json:"allow_failure"`
	Status       string       `json:"status"`
	ExitCode     int          `json:"exit_code"`
	DurationMS   int64        `json:"duration_ms"`
	Error        string       `json:"error,omitempty"`
	Steps        []StepRecord `json:"steps"`
}

// StepRecord is a stored step.
type StepRecord struct {
	Phase      string `json:"phase"`
	Command    string `json:"command"`
	Status     string `json:"status"`
	ExitCode   int    `json:"exit_code"`
	DurationMS int64  `json:"duration_ms"`
	Output     string `json:"output,omitempty"`
}

// RunDetail is a run with all of its jobs and steps.
type RunDetail struct {
	RunSummary
	Jobs []JobRecord `json:"jobs"`
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, pipeline, status, exit_code, started_at, finished_at, duration_ms FROM runs ORDER BY started_at DESC, id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		sum, err := scanRunSummary(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// GetRun returns a run with its jobs and steps, or ErrRunNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (*RunDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT id, pipeline, status, exit_code, started_at, finished_at, duration_ms FROM runs WHERE id = ?", id)

	var detail RunDetail
	var started, finished int64
	err := row.Scan(&detail.ID, &detail.Pipeline, &detail.Status, &detail.ExitCode, &started, &finished, &detail.DurationMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}
	detail.StartedAt = time.Unix(started, 0)
	detail.FinishedAt = time.Unix(finished, 0)

	jobRows, err := s.db.QueryContext(ctx,
		"SELECT id, name, channel, allow_failure, status, exit_code, duration_ms, error FROM jobs WHERE run_id = ? ORDER BY id", id)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer jobRows.Close()

	var jobIDs []int64
	for jobRows.Next() {
		var jobID int64
		var job JobRecord
		var allowFailure int
		var jobErr sql.NullString
		if err := jobRows.Scan(&jobID, &job.Name, &job.Channel, &allowFailure, &job.Status, &job.ExitCode, &job.DurationMS, &jobErr); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job.AllowFailure = allowFailure != 0
		job.Error = jobErr.String
		detail.Jobs = append(detail.Jobs, job)
		jobIDs = append(jobIDs, jobID)
	}
	if err := jobRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}

	for i, jobID := range jobIDs {
		steps, err := s.jobSteps(ctx, jobID)
		if err != nil {
			return nil, err
		}
		detail.Jobs[i].Steps = steps
	}

	return &detail, nil
}

func (s *Store) jobSteps(ctx context.Context, jobID int64) ([]StepRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT phase, command, status, exit_code, duration_ms, output FROM steps WHERE job_id = ? ORDER BY idx", jobID)
	if err != nil {
		return nil, fmt.Errorf("query steps: %w", err)
	}
	defer rows.Close()

	var steps []StepRecord
	for rows.Next() {
		var step StepRecord
		var output sql.NullString
		if err := rows.Scan(&step.Phase, &step.Command, &step.Status, &step.ExitCode, &step.DurationMS, &output); err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		step.Output = output.String
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// Prune deletes all but the newest keep runs.
func (s *Store) Prune(ctx context.Context, keep int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if keep <= 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM steps WHERE job_id IN (
			SELECT j.id FROM jobs j WHERE j.run_id NOT IN (
				SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT ?));
		`, keep)
	if err != nil {
		return fmt.Errorf("prune steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM jobs WHERE run_id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT ?);
		`, keep)
	if err != nil {
		return fmt.Errorf("prune jobs: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY started_at DESC, id DESC LIMIT ?);
		`, keep)
	if err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRunSummary(row rowScanner) (RunSummary, error) {
	var sum RunSummary
	var started, finished int64
	if err := row.Scan(&sum.ID, &sum.Pipeline, &sum.Status, &sum.ExitCode, &started, &finished, &sum.DurationMS); err != nil {
		return sum, fmt.Errorf("scan run: %w", err)
	}
	sum.StartedAt = time.Unix(started, 0)
	sum.FinishedAt = time.Unix(finished, 0)
	return sum, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
