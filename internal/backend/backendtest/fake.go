// Package backendtest provides an in-memory engine for exercising the sweep
// without a finite-element installation.
package backendtest

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/impactsweep/internal/backend"
)

// Compile-time interface satisfaction check.
var _ backend.Engine = (*Engine)(nil)

// ModelState is the fake's view of one model.
type ModelState struct {
	Depth          float64
	Seed           backend.Seed
	Meshed         bool
	Step           backend.StepTiming
	Tangential     backend.TangentialBehavior
	Velocity       backend.VelocityField
	AssemblyRegens int
}

// Submission records a submitted job with the model state it was bound to.
type Submission struct {
	Spec  backend.JobSpec
	State ModelState
}

// Engine is a configurable fake. Zero-valued hooks give a well-behaved engine:
// every mesh has elements, every job completes and every output holds one
// velocity value.
type Engine struct {
	// OpenErr fails OpenModel.
	OpenErr error
	// Elements returns the element count generated for a part at the current
	// feature depth.
	Elements func(depth float64) int
	// Outcome decides the terminal state of a job.
	Outcome func(job string) (backend.JobOutcome, error)
	// SubmitErr fails SubmitJob for the named job.
	SubmitErr func(job string) error
	// WaitDelay is how long WaitJob blocks before reporting.
	WaitDelay time.Duration
	// Output builds the artifact for a path. Defaults to VelocityOutput with
	// DefaultResidual.
	Output func(path string) (backend.Output, error)

	mu          sync.Mutex
	calls       []string
	models      map[string]*ModelState
	submissions []Submission
	killed      []string
}

// DefaultNodeSet and DefaultResidual describe the default output artifact.
const (
	DefaultNodeSet  = "REFERENCE_POINT_BALL-1     1324"
	DefaultResidual = -31234.5
)

// New returns a fake engine with default behaviour.
func New() *Engine {
	return &Engine{models: make(map[string]*ModelState)}
}

// Calls returns the operations invoked so far, in order.
func (e *Engine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.calls))
	copy(out, e.calls)
	return out
}

// ResetCalls clears the call log.
func (e *Engine) ResetCalls() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = nil
}

// Submissions returns every submitted job in order.
func (e *Engine) Submissions() []Submission {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Submission, len(e.submissions))
	copy(out, e.submissions)
	return out
}

// Killed returns the names passed to KillJob.
func (e *Engine) Killed() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.killed))
	copy(out, e.killed)
	return out
}

// Model returns a copy of the named model's state.
func (e *Engine) Model(name string) (ModelState, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	m, ok := e.models[name]
	if !ok {
		return ModelState{}, false
	}
	return *m, true
}

func (e *Engine) record(format string, args ...any) {
	e.calls = append(e.calls, fmt.Sprintf(format, args...))
}

func (e *Engine) model(name string) (*ModelState, error) {
	m, ok := e.models[name]
	if !ok {
		return nil, fmt.Errorf("model %q: %w", name, backend.ErrNotFound)
	}
	return m, nil
}

func (e *Engine) OpenModel(_ context.Context, src backend.ModelSource) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("open_model %s", src.Model)
	if e.OpenErr != nil {
		return e.OpenErr
	}
	if e.models == nil {
		e.models = make(map[string]*ModelState)
	}
	e.models[src.Model] = &ModelState{}
	return nil
}

func (e *Engine) DeleteMesh(_ context.Context, model, part string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("delete_mesh %s", part)
	m, err := e.model(model)
	if err != nil {
		return err
	}
	m.Meshed = false
	return nil
}

func (e *Engine) SeedPart(_ context.Context, model, part string, seed backend.Seed) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("seed_part %s", part)
	m, err := e.model(model)
	if err != nil {
		return err
	}
	m.Seed = seed
	return nil
}

func (e *Engine) GenerateMesh(_ context.Context, model, part string) (backend.MeshStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("generate_mesh %s", part)
	m, err := e.model(model)
	if err != nil {
		return backend.MeshStats{}, err
	}
	elements := 1000
	if e.Elements != nil {
		elements = e.Elements(m.Depth)
	}
	m.Meshed = elements > 0
	return backend.MeshStats{Nodes: elements * 2, Elements: elements}, nil
}

func (e *Engine) RegenerateAssembly(_ context.Context, model string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("regenerate_assembly")
	m, err := e.model(model)
	if err != nil {
		return err
	}
	m.AssemblyRegens++
	return nil
}

func (e *Engine) SetStepTiming(_ context.Context, model, step string, timing backend.StepTiming) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("set_step %s", step)
	m, err := e.model(model)
	if err != nil {
		return err
	}
	m.Step = timing
	return nil
}

func (e *Engine) SetTangentialBehavior(_ context.Context, model, property string, b backend.TangentialBehavior) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("set_tangential %s", property)
	m, err := e.model(model)
	if err != nil {
		return err
	}
	m.Tangential = b
	return nil
}

func (e *Engine) SetVelocityField(_ context.Context, model, field string, v backend.VelocityField) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("set_velocity %s", field)
	m, err := e.model(model)
	if err != nil {
		return err
	}
	m.Velocity = v
	return nil
}

func (e *Engine) SetFeatureDepth(_ context.Context, model, part, feature string, depth float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("set_feature_depth %s/%s", part, feature)
	m, err := e.model(model)
	if err != nil {
		return err
	}
	m.Depth = depth
	return nil
}

func (e *Engine) RegeneratePart(_ context.Context, model, part string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("regenerate_part %s", part)
	m, err := e.model(model)
	if err != nil {
		return err
	}
	m.Meshed = false
	return nil
}

func (e *Engine) SubmitJob(_ context.Context, spec backend.JobSpec) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("submit_job %s", spec.Name)
	if e.SubmitErr != nil {
		if err := e.SubmitErr(spec.Name); err != nil {
			return err
		}
	}
	m, err := e.model(spec.Model)
	if err != nil {
		return err
	}
	e.submissions = append(e.submissions, Submission{Spec: spec, State: *m})
	return nil
}

func (e *Engine) WaitJob(ctx context.Context, job string) (backend.JobOutcome, error) {
	e.mu.Lock()
	e.record("wait_job %s", job)
	delay, outcome := e.WaitDelay, e.Outcome
	e.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return backend.JobOutcome{}, ctx.Err()
		}
	}
	if outcome != nil {
		return outcome(job)
	}
	return backend.JobOutcome{State: backend.JobCompleted}, nil
}

func (e *Engine) KillJob(_ context.Context, job string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record("kill_job %s", job)
	e.killed = append(e.killed, job)
	return nil
}

func (e *Engine) OpenOutput(_ context.Context, path string) (backend.Output, error) {
	e.mu.Lock()
	e.record("open_output %s", filepath.Base(path))
	build := e.Output
	e.mu.Unlock()

	if build != nil {
		return build(path)
	}
	return VelocityOutput(DefaultNodeSet, DefaultResidual), nil
}

// JobNameFromPath strips the directory and extension from an output path.
func JobNameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
