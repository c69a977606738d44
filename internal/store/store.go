// Package store is the job ledger: a SQLite record of every sweep and of every
// job record processed within it, kept alongside the results table so the
// lifecycle of each combination can be inspected after the fact.
package store

import (
	"context"
	"errors"

	"github.com/seantiz/impactsweep/internal/model"
)

// ErrInvalidTransition is returned when a job status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// ErrNotFound is returned when a sweep or job record does not exist.
var ErrNotFound = errors.New("record not found")

// SweepStats holds aggregate statistics of one sweep's job records.
type SweepStats struct {
	Total          int            `json:"total"`
	CountByOutcome map[string]int `json:"count_by_outcome"`
	AvgDurationMS  float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations of the ledger.
type Store interface {
	CreateSweep(ctx context.Context, s *model.Sweep) error
	FinishSweep(ctx context.Context, s *model.Sweep) error
	GetSweep(ctx context.Context, id string) (*model.Sweep, error)
	ListSweeps(ctx context.Context, limit int) ([]*model.Sweep, error)

	CreateJob(ctx context.Context, j *model.JobRecord) error
	UpdateJobStatus(ctx context.Context, id, status string) error
	FinishJob(ctx context.Context, j *model.JobRecord) error
	GetJob(ctx context.Context, id string) (*model.JobRecord, error)
	ListJobs(ctx context.Context, sweepID string) ([]*model.JobRecord, error)
	GetSweepStats(ctx context.Context, sweepID string) (*SweepStats, error)

	Close() error
}
