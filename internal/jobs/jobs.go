package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/seantiz/impactsweep/internal/backend"
	"github.com/seantiz/impactsweep/internal/model"
)

// DefaultTimeout bounds the wait for a single job when none is configured.
const DefaultTimeout = 6 * time.Hour

// DefaultMemoryPercent is the share of host memory granted to each job.
const DefaultMemoryPercent = 90

// OutputExt is the extension of the output artifact a job writes to the working
// directory.
const OutputExt = ".odb"

// killTimeout bounds the kill request sent after a job misses its deadline.
const killTimeout = 30 * time.Second

var (
	// ErrJobFailed is returned when the engine reports a job as aborted or
	// terminated, or rejects the submission.
	ErrJobFailed = errors.New("job failed")

	// ErrJobTimedOut is returned when a job does not finish before its deadline.
	ErrJobTimedOut = errors.New("job timed out")
)

// Settings are the job parameters shared by every submission of a sweep.
type Settings struct {
	// WorkDir is where the engine writes job artifacts.
	WorkDir        string
	UserSubroutine string
	MemoryPercent  int
	Timeout        time.Duration
}

// Result describes how a job ended.
type Result struct {
	Status     string
	OutputPath string
	Duration   time.Duration
	Message    string
}

// Manager submits jobs and awaits their completion.
type Manager struct {
	runner   backend.JobRunner
	settings Settings
	logger   *slog.Logger
}

// NewManager creates a job manager. Zero settings fall back to defaults.
func NewManager(runner backend.JobRunner, settings Settings, logger *slog.Logger) *Manager {
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}
	if settings.MemoryPercent <= 0 {
		settings.MemoryPercent = DefaultMemoryPercent
	}
	return &Manager{runner: runner, settings: settings, logger: logger}
}

// OutputPath returns where the artifact of the named job is written.
func (m *Manager) OutputPath(name string) string {
	return filepath.Join(m.settings.WorkDir, name+OutputExt)
}

// SubmitAndAwait submits the named job on modelName with cpus domains of
// single-precision explicit dynamics and blocks until it finishes.
//
// Completed jobs return a nil error. Failed and timed-out jobs return a Result
// with the matching status together with an error wrapping ErrJobFailed or
// ErrJobTimedOut. If ctx itself ends, the job is killed and ctx's error is
// returned wrapped. There are no retries.
func (m *Manager) SubmitAndAwait(ctx context.Context, name, modelName string, cpus int) (Result, error) {
	res := Result{OutputPath: m.OutputPath(name)}

	spec := backend.JobSpec{
		Name:            name,
		Model:           modelName,
		CPUs:            cpus,
		Domains:         cpus,
		Precision:       backend.PrecisionSingle,
		Parallelization: backend.ParallelDomain,
		MemoryPercent:   m.settings.MemoryPercent,
		UserSubroutine:  m.settings.UserSubroutine,
	}

	if err := m.runner.SubmitJob(ctx, spec); err != nil {
		if ctx.Err() != nil {
			return m.finish(res, model.StatusFailed, "", time.Time{}), fmt.Errorf("submit job %s: %w", name, ctx.Err())
		}
		res = m.finish(res, model.StatusFailed, err.Error(), time.Time{})
		return res, fmt.Errorf("%w: submit %s: %w", ErrJobFailed, name, err)
	}

	start := time.Now()
	m.logger.Info("job submitted", "job", name, "model", modelName, "cpus", cpus, "timeout", m.settings.Timeout.String())

	waitCtx, cancel := context.WithTimeout(ctx, m.settings.Timeout)
	defer cancel()

	outcome, err := m.runner.WaitJob(waitCtx, name)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			m.kill(name)
			res = m.finish(res, model.StatusFailed, "interrupted", start)
			return res, fmt.Errorf("await job %s: %w", name, ctx.Err())
		case waitCtx.Err() == context.DeadlineExceeded:
			m.kill(name)
			msg := fmt.Sprintf("job timed out after %s", m.settings.Timeout)
			res = m.finish(res, model.StatusTimedOut, msg, start)
			return res, fmt.Errorf("%w: %s after %s", ErrJobTimedOut, name, m.settings.Timeout)
		default:
			res = m.finish(res, model.StatusFailed, err.Error(), start)
			return res, fmt.Errorf("%w: await %s: %w", ErrJobFailed, name, err)
		}
	}

	if !outcome.Succeeded() {
		msg := outcome.State
		if outcome.Message != "" {
			msg += ": " + outcome.Message
		}
		res = m.finish(res, model.StatusFailed, msg, start)
		return res, fmt.Errorf("%w: %s %s", ErrJobFailed, name, msg)
	}

	return m.finish(res, model.StatusCompleted, "", start), nil
}

// finish fills in the terminal fields of res and records metrics. start is zero
// when the job never got past submission.
func (m *Manager) finish(res Result, status, msg string, start time.Time) Result {
	res.Status = status
	res.Message = msg
	if !start.IsZero() {
		res.Duration = time.Since(start)
		jobDuration.Observe(res.Duration.Seconds())
	}
	jobsTotal.WithLabelValues(status).Inc()
	return res
}

// kill asks the engine to stop a job. It uses a fresh context because the
// caller's has already ended.
func (m *Manager) kill(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
	defer cancel()
	if err := m.runner.KillJob(ctx, name); err != nil {
		m.logger.Warn("failed to kill job", "job", name, "error", err)
	}
}
