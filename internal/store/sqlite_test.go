package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/seantiz/impactsweep/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTestSweep() *model.Sweep {
	return &model.Sweep{
		ID:        model.NewID(),
		Status:    model.SweepRunning,
		PlanPath:  "sweep.yaml",
		Total:     2,
		StartedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func makeTestJob(sweepID string, friction float64) *model.JobRecord {
	c := model.Combination{Friction: friction, Velocity: 129000, Thickness: 5.2}
	return model.NewJobRecord(sweepID, model.JobName(model.DefaultJobPrefix, c), c)
}

func TestCreateAndGetJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := makeTestJob("sweep-1", 0.2)

	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Name != "Ball-Impact-129-02-52" {
		t.Errorf("Name = %q", got.Name)
	}
	if got.Combination != j.Combination {
		t.Errorf("Combination = %v, want %v", got.Combination, j.Combination)
	}
	if got.Status != model.StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.Residual != nil {
		t.Errorf("Residual = %v, want nil", *got.Residual)
	}
	if got.FinishedAt != nil {
		t.Error("FinishedAt set on a pending job")
	}
}

func TestGetJobNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetJob(context.Background(), "nonexistent"); err != ErrNotFound {
		t.Errorf("GetJob error = %v, want ErrNotFound", err)
	}
}

func TestUpdateJobStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := makeTestJob("sweep-1", 0.2)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if err := s.UpdateJobStatus(ctx, j.ID, model.StatusSubmitted); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}
	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != model.StatusSubmitted {
		t.Errorf("Status = %q, want submitted", got.Status)
	}
}

func TestUpdateJobStatusInvalidTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := makeTestJob("sweep-1", 0.2)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	err := s.UpdateJobStatus(ctx, j.ID, model.StatusCompleted)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != model.StatusPending {
		t.Errorf("Status = %q, want unchanged pending", got.Status)
	}
}

func TestUpdateJobStatusNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.UpdateJobStatus(context.Background(), "missing", model.StatusSubmitted); err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestFinishJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := makeTestJob("sweep-1", 0.2)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.UpdateJobStatus(ctx, j.ID, model.StatusSubmitted); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	residual := -31.2345
	dur := 1500
	j.Status = model.StatusCompleted
	j.Outcome = model.OutcomeCompleted
	j.Residual = &residual
	j.SubmittedAt = &now
	j.FinishedAt = &now
	j.DurationMS = &dur
	if err := s.FinishJob(ctx, j); err != nil {
		t.Fatalf("FinishJob: %v", err)
	}

	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != model.StatusCompleted || got.Outcome != model.OutcomeCompleted {
		t.Errorf("status/outcome = %q/%q", got.Status, got.Outcome)
	}
	if got.Residual == nil || *got.Residual != residual {
		t.Errorf("Residual = %v, want %v", got.Residual, residual)
	}
	if got.DurationMS == nil || *got.DurationMS != dur {
		t.Errorf("DurationMS = %v, want %d", got.DurationMS, dur)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt is nil")
	}
}

func TestFinishJobFromPendingAsFailed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := makeTestJob("sweep-1", 0.2)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	j.Status = model.StatusFailed
	j.Outcome = model.OutcomeMutationFailed
	j.Error = "part geometry could not be meshed"
	if err := s.FinishJob(ctx, j); err != nil {
		t.Fatalf("FinishJob: %v", err)
	}

	got, _ := s.GetJob(ctx, j.ID)
	if got.Error != j.Error {
		t.Errorf("Error = %q, want %q", got.Error, j.Error)
	}
}

func TestFinishJobRejectsCompletedFromPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := makeTestJob("sweep-1", 0.2)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	j.Status = model.StatusCompleted
	if err := s.FinishJob(ctx, j); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("error = %v, want ErrInvalidTransition", err)
	}
}

func TestFinishJobRejectsNonFinalStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	j := makeTestJob("sweep-1", 0.2)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	// pending -> submitted is a valid step, but not a way to finish a job.
	j.Status = model.StatusSubmitted
	if err := s.FinishJob(ctx, j); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("error = %v, want ErrInvalidTransition", err)
	}
	got, _ := s.GetJob(ctx, j.ID)
	if got.Status != model.StatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
}

func TestListJobsProcessingOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	frictions := []float64{0.7, 0.2, 0.45}
	for _, f := range frictions {
		if err := s.CreateJob(ctx, makeTestJob("sweep-1", f)); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}
	if err := s.CreateJob(ctx, makeTestJob("sweep-2", 0.9)); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	jobs, err := s.ListJobs(ctx, "sweep-1")
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobs) != len(frictions) {
		t.Fatalf("len = %d, want %d", len(jobs), len(frictions))
	}
	for i, j := range jobs {
		if j.Combination.Friction != frictions[i] {
			t.Errorf("jobs[%d].Friction = %v, want %v", i, j.Combination.Friction, frictions[i])
		}
	}
}

func TestListJobsEmpty(t *testing.T) {
	s := newTestStore(t)
	jobs, err := s.ListJobs(context.Background(), "none")
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if jobs != nil {
		t.Errorf("jobs = %v, want nil", jobs)
	}
}

func TestSweepLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sw := makeTestSweep()

	if err := s.CreateSweep(ctx, sw); err != nil {
		t.Fatalf("CreateSweep: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	sw.Status = model.SweepFinished
	sw.Attempted, sw.Succeeded, sw.Failed = 2, 1, 1
	sw.FinishedAt = &now
	if err := s.FinishSweep(ctx, sw); err != nil {
		t.Fatalf("FinishSweep: %v", err)
	}

	got, err := s.GetSweep(ctx, sw.ID)
	if err != nil {
		t.Fatalf("GetSweep: %v", err)
	}
	if got.Status != model.SweepFinished || got.Attempted != 2 || got.Succeeded != 1 || got.Failed != 1 {
		t.Errorf("sweep = %+v", got)
	}
	if got.PlanPath != "sweep.yaml" {
		t.Errorf("PlanPath = %q", got.PlanPath)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt is nil")
	}
}

func TestFinishSweepNotFound(t *testing.T) {
	s := newTestStore(t)
	if err := s.FinishSweep(context.Background(), makeTestSweep()); err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestListSweepsNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		sw := makeTestSweep()
		sw.StartedAt = time.Date(2026, 1, 1+i, 0, 0, 0, 0, time.UTC)
		if err := s.CreateSweep(ctx, sw); err != nil {
			t.Fatalf("CreateSweep[%d]: %v", i, err)
		}
	}

	sweeps, err := s.ListSweeps(ctx, 2)
	if err != nil {
		t.Fatalf("ListSweeps: %v", err)
	}
	if len(sweeps) != 2 {
		t.Fatalf("len = %d, want 2", len(sweeps))
	}
	if sweeps[0].StartedAt.Before(sweeps[1].StartedAt) {
		t.Errorf("sweeps not newest first: %v before %v", sweeps[0].StartedAt, sweeps[1].StartedAt)
	}
}

func TestGetSweepStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	outcomes := []string{model.OutcomeCompleted, model.OutcomeCompleted, model.OutcomeTimedOut}
	for i, o := range outcomes {
		j := makeTestJob("sweep-1", float64(i)/10)
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
		if err := s.UpdateJobStatus(ctx, j.ID, model.StatusSubmitted); err != nil {
			t.Fatalf("UpdateJobStatus: %v", err)
		}
		dur := 1000 * (i + 1)
		j.Status = model.StatusCompleted
		if o == model.OutcomeTimedOut {
			j.Status = model.StatusTimedOut
		}
		j.Outcome = o
		j.DurationMS = &dur
		if err := s.FinishJob(ctx, j); err != nil {
			t.Fatalf("FinishJob: %v", err)
		}
	}

	stats, err := s.GetSweepStats(ctx, "sweep-1")
	if err != nil {
		t.Fatalf("GetSweepStats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.CountByOutcome[model.OutcomeCompleted] != 2 || stats.CountByOutcome[model.OutcomeTimedOut] != 1 {
		t.Errorf("CountByOutcome = %v", stats.CountByOutcome)
	}
	if stats.AvgDurationMS != 2000 {
		t.Errorf("AvgDurationMS = %v, want 2000", stats.AvgDurationMS)
	}
}

func TestNewSQLiteStoreFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	ctx := context.Background()
	j := makeTestJob("sweep-1", 0.2)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	s.Close()

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.GetJob(ctx, j.ID); err != nil {
		t.Errorf("GetJob after reopen: %v", err)
	}
}
