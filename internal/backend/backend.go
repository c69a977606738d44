package backend

import (
	"context"
	"errors"
)

// Errors an engine implementation reports for missing output entities. Callers
// match them with errors.Is.
var (
	ErrNotFound        = errors.New("engine object not found")
	ErrNodeSetNotFound = errors.New("node set not found")
	ErrFieldNotFound   = errors.New("field output not found")
)

// Engine is the full surface the sweep consumes. Each component depends only on
// the narrower interface it needs.
type Engine interface {
	ModelEditor
	JobRunner
	OutputReader
}

// ModelEditor edits an in-memory model held by the engine session. Every setter
// replaces the previous value, so repeated calls never accumulate.
type ModelEditor interface {
	// OpenModel copies a model definition from a container file into the session.
	OpenModel(ctx context.Context, src ModelSource) error

	DeleteMesh(ctx context.Context, model, part string) error
	SeedPart(ctx context.Context, model, part string, seed Seed) error
	// GenerateMesh meshes the part and reports what was generated.
	GenerateMesh(ctx context.Context, model, part string) (MeshStats, error)

	RegenerateAssembly(ctx context.Context, model string) error
	SetStepTiming(ctx context.Context, model, step string, timing StepTiming) error
	SetTangentialBehavior(ctx context.Context, model, property string, b TangentialBehavior) error
	SetVelocityField(ctx context.Context, model, field string, v VelocityField) error

	SetFeatureDepth(ctx context.Context, model, part, feature string, depth float64) error
	RegeneratePart(ctx context.Context, model, part string) error
}

// JobRunner submits analysis jobs and observes their terminal state.
type JobRunner interface {
	SubmitJob(ctx context.Context, spec JobSpec) error

	// WaitJob blocks until the job reaches a terminal state or ctx is done. A
	// context error is returned unchanged when ctx ends first.
	WaitJob(ctx context.Context, job string) (JobOutcome, error)

	// KillJob terminates a running job. Killing a finished job is not an error.
	KillJob(ctx context.Context, job string) error
}

// OutputReader opens output artifacts produced by completed jobs.
type OutputReader interface {
	OpenOutput(ctx context.Context, path string) (Output, error)
}

// Output is an open output artifact. Steps are returned in analysis order and
// frames are indexed from zero.
type Output interface {
	Steps(ctx context.Context) ([]string, error)
	FrameCount(ctx context.Context, step string) (int, error)
	FieldValues(ctx context.Context, q FieldQuery) ([]NodeValue, error)
	Close() error
}

// ModelSource names a model inside a container file on disk.
type ModelSource struct {
	Path  string `json:"path"`
	Model string `json:"model"`
}

// Seed controls global mesh seeding of a part.
type Seed struct {
	Size            float64 `json:"size"`
	DeviationFactor float64 `json:"deviation_factor"`
	MinSizeFactor   float64 `json:"min_size_factor"`
}

// MeshStats summarises a generated mesh.
type MeshStats struct {
	Nodes    int `json:"nodes"`
	Elements int `json:"elements"`
}

// StepTiming sets the period and maximum increment of an explicit step.
type StepTiming struct {
	Period       float64 `json:"period"`
	MaxIncrement float64 `json:"max_increment"`
}

// Tangential contact formulations and directionalities.
const (
	FormulationPenalty   = "PENALTY"
	DirectionalIsotropic = "ISOTROPIC"
)

// TangentialBehavior is the friction law of a contact interaction property.
type TangentialBehavior struct {
	Formulation    string  `json:"formulation"`
	Directionality string  `json:"directionality"`
	Friction       float64 `json:"friction"`
	// SlipFraction is the maximum elastic slip as a fraction of element length.
	SlipFraction float64 `json:"slip_fraction"`
}

// VelocityField is a predefined initial velocity with three translational
// components and an angular velocity.
type VelocityField struct {
	V1    float64 `json:"velocity1"`
	V2    float64 `json:"velocity2"`
	V3    float64 `json:"velocity3"`
	Omega float64 `json:"omega"`
}

// Precision modes for explicit analyses.
const (
	PrecisionSingle = "SINGLE"
	PrecisionDouble = "DOUBLE"
)

// Parallelization methods for explicit analyses.
const (
	ParallelDomain = "DOMAIN"
	ParallelLoop   = "LOOP"
)

// JobSpec describes an analysis job bound to a model in the session.
type JobSpec struct {
	Name            string `json:"name"`
	Model           string `json:"model"`
	CPUs            int    `json:"cpus"`
	Domains         int    `json:"domains"`
	Precision       string `json:"precision"`
	Parallelization string `json:"parallelization"`
	MemoryPercent   int    `json:"memory_percent"`
	UserSubroutine  string `json:"user_subroutine,omitempty"`
}

// Terminal job states reported by the engine.
const (
	JobCompleted  = "COMPLETED"
	JobAborted    = "ABORTED"
	JobTerminated = "TERMINATED"
)

// JobOutcome is the terminal state of a job. Message carries the engine's
// diagnostic for failed jobs.
type JobOutcome struct {
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}

// Succeeded reports whether the job completed normally.
func (o JobOutcome) Succeeded() bool {
	return o.State == JobCompleted
}

// FieldQuery selects a field output restricted to a node set in one frame.
type FieldQuery struct {
	Step    string `json:"step"`
	Frame   int    `json:"frame"`
	Field   string `json:"field"`
	NodeSet string `json:"node_set"`
}

// NodeValue is a field value at one node.
type NodeValue struct {
	Node int       `json:"node"`
	Data []float64 `json:"data"`
}
