package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/seantiz/impactsweep/internal/model"

	_ "modernc.org/sqlite"
)

const createSweepsTable = `
CREATE TABLE IF NOT EXISTS sweeps (
    id          TEXT PRIMARY KEY,
    status      TEXT NOT NULL,
    plan_path   TEXT,
    total       INTEGER NOT NULL,
    attempted   INTEGER NOT NULL,
    succeeded   INTEGER NOT NULL,
    failed      INTEGER NOT NULL,
    error       TEXT,
    started_at  DATETIME NOT NULL,
    finished_at DATETIME
)`

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
    seq          INTEGER PRIMARY KEY AUTOINCREMENT,
    id           TEXT NOT NULL UNIQUE,
    sweep_id     TEXT NOT NULL,
    name         TEXT NOT NULL,
    friction     REAL NOT NULL,
    velocity     REAL NOT NULL,
    thickness    REAL NOT NULL,
    status       TEXT NOT NULL,
    outcome      TEXT,
    residual     REAL,
    error        TEXT,
    created_at   DATETIME NOT NULL,
    submitted_at DATETIME,
    finished_at  DATETIME,
    duration_ms  INTEGER
)`

const createJobsIndex = `CREATE INDEX IF NOT EXISTS jobs_sweep_id ON jobs (sweep_id, seq)`

const jobColumns = `id, sweep_id, name, friction, velocity, thickness, status,
	outcome, residual, error, created_at, submitted_at, finished_at, duration_ms`

const sweepColumns = `id, status, plan_path, total, attempted, succeeded, failed,
	error, started_at, finished_at`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createSweepsTable, createJobsTable, createJobsIndex} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSweep inserts a new sweep record.
func (s *SQLiteStore) CreateSweep(ctx context.Context, sw *model.Sweep) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sweeps (`+sweepColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sw.ID, sw.Status, sw.PlanPath, sw.Total, sw.Attempted, sw.Succeeded, sw.Failed,
		sw.Error, sw.StartedAt, sw.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert sweep: %w", err)
	}
	return nil
}

// FinishSweep stores the final counters and status of a sweep.
func (s *SQLiteStore) FinishSweep(ctx context.Context, sw *model.Sweep) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sweeps SET status = ?, attempted = ?, succeeded = ?, failed = ?,
			error = ?, finished_at = ? WHERE id = ?`,
		sw.Status, sw.Attempted, sw.Succeeded, sw.Failed, sw.Error, sw.FinishedAt, sw.ID,
	)
	if err != nil {
		return fmt.Errorf("update sweep: %w", err)
	}
	return checkAffected(result)
}

// GetSweep retrieves a sweep by ID.
func (s *SQLiteStore) GetSweep(ctx context.Context, id string) (*model.Sweep, error) {
	sw, err := scanSweep(s.db.QueryRowContext(ctx,
		`SELECT `+sweepColumns+` FROM sweeps WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sweep: %w", err)
	}
	return sw, nil
}

// ListSweeps returns up to limit sweeps, newest first.
func (s *SQLiteStore) ListSweeps(ctx context.Context, limit int) ([]*model.Sweep, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sweepColumns+` FROM sweeps ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list sweeps: %w", err)
	}
	defer rows.Close()

	var sweeps []*model.Sweep
	for rows.Next() {
		sw, err := scanSweep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sweep: %w", err)
		}
		sweeps = append(sweeps, sw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sweeps: %w", err)
	}
	return sweeps, nil
}

// CreateJob inserts a new job record.
func (s *SQLiteStore) CreateJob(ctx context.Context, j *model.JobRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.SweepID, j.Name, j.Combination.Friction, j.Combination.Velocity, j.Combination.Thickness,
		j.Status, j.Outcome, j.Residual, j.Error, j.CreatedAt, j.SubmittedAt, j.FinishedAt, j.DurationMS,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// UpdateJobStatus moves a job record to status. The transition is validated
// against the stored status inside one transaction.
func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, id, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM jobs WHERE id = ?", id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read job status: %w", err)
	}
	if !model.ValidTransition(current, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE jobs SET status = ? WHERE id = ?", status, id); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	return tx.Commit()
}

// FinishJob stores the terminal state of a job record. The record's status must
// be a valid successor of the stored one, or equal to it when the status was
// already recorded by UpdateJobStatus.
func (s *SQLiteStore) FinishJob(ctx context.Context, j *model.JobRecord) error {
	if !model.IsTerminal(j.Status) {
		return fmt.Errorf("%w: %s is not a final status", ErrInvalidTransition, j.Status)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, "SELECT status FROM jobs WHERE id = ?", j.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read job status: %w", err)
	}
	if current != j.Status && !model.ValidTransition(current, j.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, j.Status)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, outcome = ?, residual = ?, error = ?,
			submitted_at = ?, finished_at = ?, duration_ms = ? WHERE id = ?`,
		j.Status, j.Outcome, j.Residual, j.Error, j.SubmittedAt, j.FinishedAt, j.DurationMS, j.ID,
	)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return tx.Commit()
}

// GetJob retrieves a job record by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.JobRecord, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// ListJobs returns the job records of a sweep in processing order.
func (s *SQLiteStore) ListJobs(ctx context.Context, sweepID string) ([]*model.JobRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE sweep_id = ? ORDER BY seq`, sweepID,
	)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*model.JobRecord
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// GetSweepStats aggregates the job records of a sweep.
func (s *SQLiteStore) GetSweepStats(ctx context.Context, sweepID string) (*SweepStats, error) {
	stats := &SweepStats{CountByOutcome: make(map[string]int)}

	rows, err := s.db.QueryContext(ctx,
		`SELECT COALESCE(outcome, ''), COUNT(*) FROM jobs WHERE sweep_id = ? GROUP BY outcome`, sweepID,
	)
	if err != nil {
		return nil, fmt.Errorf("count outcomes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scan outcome count: %w", err)
		}
		if outcome == "" {
			outcome = "unfinished"
		}
		stats.CountByOutcome[outcome] += n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcome counts: %w", err)
	}
	rows.Close()

	var avg sql.NullFloat64
	if err := s.db.QueryRowContext(ctx,
		`SELECT AVG(duration_ms) FROM jobs WHERE sweep_id = ? AND duration_ms IS NOT NULL`, sweepID,
	).Scan(&avg); err != nil {
		return nil, fmt.Errorf("average duration: %w", err)
	}
	if avg.Valid {
		stats.AvgDurationMS = avg.Float64
	}
	return stats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (*model.JobRecord, error) {
	j := &model.JobRecord{}
	var outcome, errText sql.NullString
	err := sc.Scan(
		&j.ID, &j.SweepID, &j.Name, &j.Combination.Friction, &j.Combination.Velocity, &j.Combination.Thickness,
		&j.Status, &outcome, &j.Residual, &errText, &j.CreatedAt, &j.SubmittedAt, &j.FinishedAt, &j.DurationMS,
	)
	if err != nil {
		return nil, err
	}
	j.Outcome = outcome.String
	j.Error = errText.String
	return j, nil
}

func scanSweep(sc scanner) (*model.Sweep, error) {
	sw := &model.Sweep{}
	var planPath, errText sql.NullString
	err := sc.Scan(
		&sw.ID, &sw.Status, &planPath, &sw.Total, &sw.Attempted, &sw.Succeeded, &sw.Failed,
		&errText, &sw.StartedAt, &sw.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	sw.PlanPath = planPath.String
	sw.Error = errText.String
	return sw, nil
}

func checkAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
