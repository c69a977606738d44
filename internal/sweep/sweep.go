package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/impactsweep/internal/backend"
	"github.com/seantiz/impactsweep/internal/config"
	"github.com/seantiz/impactsweep/internal/extract"
	"github.com/seantiz/impactsweep/internal/jobs"
	"github.com/seantiz/impactsweep/internal/model"
	"github.com/seantiz/impactsweep/internal/mutate"
	"github.com/seantiz/impactsweep/internal/results"
	"github.com/seantiz/impactsweep/internal/store"
)

// Stages a combination passes through.
const (
	StageMutate  = "mutate"
	StageJob     = "job"
	StageExtract = "extract"
)

// StageError is the failure of one combination at one stage. The sweep records
// it and continues.
type StageError struct {
	Stage string
	Job   string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Job, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Summary counts what a sweep did. Succeeded and Failed add up to Attempted.
type Summary struct {
	SweepID   string
	Total     int
	Attempted int
	Succeeded int
	Failed    int
	Outcomes  map[string]int
}

// Options are the process-level settings of a sweep.
type Options struct {
	// SweepID identifies the sweep in the ledger. Empty generates one.
	SweepID string
	// WorkDir is where the engine writes job artifacts.
	WorkDir string
	// BaseDir resolves relative plan paths such as the user subroutine.
	BaseDir  string
	PlanPath string
	// MetricsPath, when set, receives a prometheus textfile after every
	// combination.
	MetricsPath string
	Reporter    Reporter
}

// Sweeper runs one sweep over a plan.
type Sweeper struct {
	engine    backend.Engine
	plan      *config.Plan
	table     *results.Table
	ledger    store.Store
	mutator   *mutate.Mutator
	jobs      *jobs.Manager
	extractor *extract.Extractor
	reporter  Reporter
	opts      Options
	logger    *slog.Logger
}

// New wires a sweeper. The plan is expected to be valid; Run still refuses a
// grid it cannot expand.
func New(eng backend.Engine, plan *config.Plan, table *results.Table, ledger store.Store, opts Options, logger *slog.Logger) *Sweeper {
	if opts.SweepID == "" {
		opts.SweepID = model.NewID()
	}
	if opts.Reporter == nil {
		opts.Reporter = NewLogReporter(logger)
	}

	return &Sweeper{
		engine: eng,
		plan:   plan,
		table:  table,
		ledger: ledger,
		mutator: mutate.New(eng, mutate.Settings{
			Seed:   plan.Seed(),
			Timing: plan.Timing(),
		}, logger),
		jobs: jobs.NewManager(eng, jobs.Settings{
			WorkDir:        opts.WorkDir,
			UserSubroutine: plan.SubroutinePath(opts.BaseDir),
			MemoryPercent:  plan.Job.MemoryPercent,
			Timeout:        plan.Job.Timeout,
		}, logger),
		extractor: extract.New(eng, plan.Extraction.Divisor, logger),
		reporter:  opts.Reporter,
		opts:      opts,
		logger:    logger,
	}
}

// ID returns the sweep's ledger id.
func (s *Sweeper) ID() string {
	return s.opts.SweepID
}

// Run processes every combination in grid order and returns the summary.
//
// The returned error is non-nil only for fatal conditions: an invalid grid, a
// model that cannot be opened, a row that cannot be persisted, or ctx ending.
// Combinations that fail at a stage are counted in the summary instead.
func (s *Sweeper) Run(ctx context.Context) (Summary, error) {
	sum := Summary{SweepID: s.opts.SweepID, Outcomes: make(map[string]int)}

	combos, err := s.plan.Combinations()
	if err != nil {
		err = fmt.Errorf("build grid: %w", err)
		s.reporter.SweepFinished(sum, err)
		return sum, err
	}
	sum.Total = len(combos)

	// Persistence continues past cancellation so the interrupted row lands.
	persistCtx := context.WithoutCancel(ctx)

	sw := &model.Sweep{
		ID:        s.opts.SweepID,
		Status:    model.SweepRunning,
		PlanPath:  s.opts.PlanPath,
		Total:     len(combos),
		StartedAt: time.Now().UTC(),
	}
	if err := s.ledger.CreateSweep(persistCtx, sw); err != nil {
		err = fmt.Errorf("record sweep: %w", err)
		s.reporter.SweepFinished(sum, err)
		return sum, err
	}

	s.logger.Info("sweep configuration",
		"model", s.plan.Model.Name,
		"model_path", s.plan.ModelPath(),
		"user_subroutine", s.plan.SubroutinePath(s.opts.BaseDir),
		"work_dir", s.opts.WorkDir,
		"results", s.table.Path(),
	)
	s.reporter.SweepStarted(sw.ID, len(combos))
	combinationsRemaining.Set(float64(len(combos)))

	runErr := s.run(ctx, persistCtx, combos, &sum)

	now := time.Now().UTC()
	sw.Attempted, sw.Succeeded, sw.Failed = sum.Attempted, sum.Succeeded, sum.Failed
	sw.FinishedAt = &now
	sw.Status = model.SweepFinished
	if runErr != nil {
		sw.Status = model.SweepAborted
		sw.Error = runErr.Error()
	}
	if err := s.ledger.FinishSweep(persistCtx, sw); err != nil {
		if runErr == nil {
			runErr = fmt.Errorf("record sweep: %w", err)
		} else {
			s.logger.Error("failed to record aborted sweep", "sweep_id", sw.ID, "error", err)
		}
	}

	combinationsRemaining.Set(0)
	s.exportMetrics()
	s.reporter.SweepFinished(sum, runErr)
	return sum, runErr
}

func (s *Sweeper) run(ctx, persistCtx context.Context, combos []model.Combination, sum *Summary) error {
	src := backend.ModelSource{Path: s.plan.ModelPath(), Model: s.plan.Model.Name}
	if err := s.engine.OpenModel(ctx, src); err != nil {
		return fmt.Errorf("open model %s from %s: %w", src.Model, src.Path, err)
	}
	st := mutate.NewState(s.plan.Model.Name, s.plan.Model.Targets)

	for i, c := range combos {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("sweep stopped before %s: %w", model.JobName(s.plan.Job.Prefix, c), err)
		}

		rec, stageErr, err := s.process(ctx, persistCtx, st, i, len(combos), c)
		if err != nil {
			return err
		}
		var failure error
		if stageErr != nil {
			failure = stageErr
		}

		sum.Attempted++
		sum.Outcomes[rec.Outcome]++
		if rec.Outcome == model.OutcomeCompleted {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
		combinationsTotal.WithLabelValues(rec.Outcome).Inc()
		combinationsRemaining.Set(float64(len(combos) - i - 1))
		s.exportMetrics()
		s.reporter.CombinationFinished(i, len(combos), rec, failure)

		if rec.Outcome == model.OutcomeInterrupted {
			return fmt.Errorf("sweep interrupted at %s: %w", rec.Name, ctx.Err())
		}
	}
	return nil
}

// process takes one combination through every stage and persists its row. The
// returned error is fatal; a stage failure comes back as the *StageError.
func (s *Sweeper) process(ctx, persistCtx context.Context, st *mutate.State, index, total int, c model.Combination) (*model.JobRecord, *StageError, error) {
	name := model.JobName(s.plan.Job.Prefix, c)
	rec := model.NewJobRecord(s.opts.SweepID, name, c)
	if err := s.ledger.CreateJob(persistCtx, rec); err != nil {
		return nil, nil, fmt.Errorf("record job %s: %w", name, err)
	}
	s.reporter.CombinationStarted(index, total, name, c)

	start := time.Now()
	stageErr, err := s.execute(ctx, persistCtx, st, rec)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now().UTC()
	rec.FinishedAt = &now
	if rec.DurationMS == nil {
		ms := int(time.Since(start).Milliseconds())
		rec.DurationMS = &ms
	}

	row := results.Row{
		JobName:   name,
		Friction:  c.Friction,
		Velocity:  c.Velocity / s.extractor.Divisor(),
		Residual:  rec.Residual,
		Thickness: c.Thickness,
		Status:    rec.Outcome,
		Error:     rec.Error,
	}
	if err := s.table.Append(row); err != nil {
		return nil, nil, fmt.Errorf("record result of %s: %w", name, err)
	}
	if err := s.ledger.FinishJob(persistCtx, rec); err != nil {
		return nil, nil, fmt.Errorf("record job %s: %w", name, err)
	}

	return rec, stageErr, nil
}

// execute runs the mutate, job and extract stages, filling in rec. The error
// is a fatal ledger failure.
func (s *Sweeper) execute(ctx, persistCtx context.Context, st *mutate.State, rec *model.JobRecord) (*StageError, error) {
	fail := func(stage, outcome, status string, err error) *StageError {
		if ctx.Err() != nil {
			outcome = model.OutcomeInterrupted
		}
		rec.Status = status
		rec.Outcome = outcome
		rec.Error = err.Error()
		return &StageError{Stage: stage, Job: rec.Name, Err: err}
	}

	if err := s.mutator.Apply(ctx, st, rec.Combination); err != nil {
		return fail(StageMutate, model.OutcomeMutationFailed, model.StatusFailed, err), nil
	}
	mesh := st.Mesh()
	depth, _ := st.Thickness()
	meshElements.Set(float64(mesh.Elements))
	s.logger.Debug("model prepared", "job", rec.Name, "thickness", depth, "nodes", mesh.Nodes, "elements", mesh.Elements)

	if err := s.ledger.UpdateJobStatus(persistCtx, rec.ID, model.StatusSubmitted); err != nil {
		return nil, fmt.Errorf("record job %s: %w", rec.Name, err)
	}
	submitted := time.Now().UTC()
	rec.Status = model.StatusSubmitted
	rec.SubmittedAt = &submitted

	res, err := s.jobs.SubmitAndAwait(ctx, rec.Name, st.Model, s.plan.Job.CPUs)
	if res.Duration > 0 {
		ms := int(res.Duration.Milliseconds())
		rec.DurationMS = &ms
	}
	switch {
	case errors.Is(err, jobs.ErrJobTimedOut):
		return fail(StageJob, model.OutcomeTimedOut, model.StatusTimedOut, err), nil
	case err != nil:
		return fail(StageJob, model.OutcomeJobFailed, model.StatusFailed, err), nil
	}
	rec.Status = model.StatusCompleted

	residual, err := s.extractor.Extract(ctx, extract.Query{
		Path:      res.OutputPath,
		NodeSet:   s.plan.Extraction.NodeSet,
		Field:     s.plan.Extraction.Field,
		Component: s.plan.Extraction.Component,
	})
	if err != nil {
		return fail(StageExtract, model.OutcomeExtractionFailed, model.StatusCompleted, err), nil
	}

	rec.Outcome = model.OutcomeCompleted
	rec.Residual = &residual
	lastResidual.Set(residual)
	lastSuccess.SetToCurrentTime()
	return nil, nil
}

func (s *Sweeper) exportMetrics() {
	if s.opts.MetricsPath == "" {
		return
	}
	if err := prometheus.WriteToTextfile(s.opts.MetricsPath, prometheus.DefaultGatherer); err != nil {
		s.logger.Warn("failed to write metrics textfile", "path", s.opts.MetricsPath, "error", err)
	}
}
