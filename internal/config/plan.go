package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/impactsweep/internal/backend"
	"github.com/seantiz/impactsweep/internal/extract"
	"github.com/seantiz/impactsweep/internal/grid"
	"github.com/seantiz/impactsweep/internal/jobs"
	"github.com/seantiz/impactsweep/internal/model"
	"github.com/seantiz/impactsweep/internal/mutate"
)

// Defaults of the ball-strike study.
const (
	DefaultModelName      = "Ball-Strike"
	DefaultUserSubroutine = "VUSDFLD.for"
	DefaultCPUs           = 6
	DefaultNodeSet        = "REFERENCE_POINT_BALL-1     1324"
	DefaultField          = "V"
	DefaultComponent      = 2
)

// ErrInvalidPlan is wrapped by every plan validation error.
var ErrInvalidPlan = errors.New("invalid sweep plan")

// Plan is the sweep definition read from YAML. Fields omitted from the file
// keep the values of DefaultPlan.
type Plan struct {
	Model          ModelPlan      `yaml:"model"`
	UserSubroutine string         `yaml:"user_subroutine"`
	Grid           GridPlan       `yaml:"grid"`
	Mesh           MeshPlan       `yaml:"mesh"`
	Step           StepPlan       `yaml:"step"`
	Job            JobPlan        `yaml:"job"`
	Extraction     ExtractionPlan `yaml:"extraction"`
}

// ModelPlan locates the template model.
type ModelPlan struct {
	Name string `yaml:"name"`
	// Path is the container file the model is copied from. Empty means
	// "<name>.cae" in the invocation directory.
	Path    string         `yaml:"path,omitempty"`
	Targets mutate.Targets `yaml:"targets"`
}

// GridPlan holds the three swept axes.
type GridPlan struct {
	Thickness AxisPlan `yaml:"thickness"`
	Velocity  AxisPlan `yaml:"velocity"`
	Friction  AxisPlan `yaml:"friction"`
}

// AxisPlan is either a range or an explicit list of values. In YAML an axis may
// be written as a mapping or, for a list, as a bare sequence.
type AxisPlan struct {
	Lower     float64   `yaml:"lower,omitempty"`
	Upper     float64   `yaml:"upper,omitempty"`
	Increment float64   `yaml:"increment,omitempty"`
	Values    []float64 `yaml:"values,omitempty"`
}

// UnmarshalYAML replaces the axis wholesale so a range in the file never mixes
// with a default value list.
func (a *AxisPlan) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.SequenceNode {
		var values []float64
		if err := n.Decode(&values); err != nil {
			return err
		}
		*a = AxisPlan{Values: values}
		return nil
	}
	type raw AxisPlan
	var r raw
	if err := n.Decode(&r); err != nil {
		return err
	}
	*a = AxisPlan(r)
	return nil
}

// Axis converts the plan entry into a grid axis.
func (a AxisPlan) Axis(name string) grid.Axis {
	if len(a.Values) > 0 {
		return grid.List(name, a.Values...)
	}
	return grid.Range(name, a.Lower, a.Upper, a.Increment)
}

// MeshPlan is the global seed applied to the plate after every thickness change.
type MeshPlan struct {
	Size            float64 `yaml:"size"`
	DeviationFactor float64 `yaml:"deviation_factor"`
	MinSizeFactor   float64 `yaml:"min_size_factor"`
}

// StepPlan is the explicit step timing.
type StepPlan struct {
	Period       float64 `yaml:"period"`
	MaxIncrement float64 `yaml:"max_increment"`
}

// JobPlan holds the submission parameters.
type JobPlan struct {
	Prefix        string        `yaml:"prefix"`
	CPUs          int           `yaml:"cpus"`
	MemoryPercent int           `yaml:"memory_percent"`
	Timeout       time.Duration `yaml:"timeout"`
}

// ExtractionPlan selects the scalar read from each output artifact.
type ExtractionPlan struct {
	NodeSet   string  `yaml:"node_set"`
	Field     string  `yaml:"field"`
	Component int     `yaml:"component"`
	Divisor   float64 `yaml:"divisor"`
}

// DefaultPlan returns the plan of the original ball-strike study.
func DefaultPlan() *Plan {
	return &Plan{
		Model: ModelPlan{
			Name:    DefaultModelName,
			Targets: mutate.DefaultTargets(),
		},
		UserSubroutine: DefaultUserSubroutine,
		Grid: GridPlan{
			Thickness: AxisPlan{Lower: 5.2, Upper: 5.9, Increment: 0.5},
			Velocity:  AxisPlan{Values: []float64{129000}},
			Friction:  AxisPlan{Lower: 0.2, Upper: 0.9, Increment: 0.5},
		},
		Mesh: MeshPlan{Size: 10.0, DeviationFactor: 0.1, MinSizeFactor: 0.1},
		Step: StepPlan{Period: 0.002, MaxIncrement: 1e-6},
		Job: JobPlan{
			Prefix:        model.DefaultJobPrefix,
			CPUs:          DefaultCPUs,
			MemoryPercent: jobs.DefaultMemoryPercent,
			Timeout:       jobs.DefaultTimeout,
		},
		Extraction: ExtractionPlan{
			NodeSet:   DefaultNodeSet,
			Field:     DefaultField,
			Component: DefaultComponent,
			Divisor:   extract.DefaultDivisor,
		},
	}
}

// LoadPlan reads a YAML plan from path on top of DefaultPlan and validates it.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan: %w", err)
	}
	p := DefaultPlan()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidPlan, path, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Marshal renders the plan as YAML.
func (p *Plan) Marshal() ([]byte, error) {
	return yaml.Marshal(p)
}

// ModelPath returns the container file of the template model.
func (p *Plan) ModelPath() string {
	if p.Model.Path != "" {
		return p.Model.Path
	}
	return p.Model.Name + ".cae"
}

// Axes returns the grid axes in nesting order.
func (p *Plan) Axes() (thickness, velocity, friction grid.Axis) {
	return p.Grid.Thickness.Axis("thickness"),
		p.Grid.Velocity.Axis("velocity"),
		p.Grid.Friction.Axis("friction")
}

// Combinations expands the grid and rejects identity collisions.
func (p *Plan) Combinations() ([]model.Combination, error) {
	combos, err := grid.Generate(p.Axes())
	if err != nil {
		return nil, err
	}
	if err := grid.CheckIdentities(p.Job.Prefix, combos); err != nil {
		return nil, err
	}
	return combos, nil
}

// Seed returns the mesh seed in engine terms.
func (p *Plan) Seed() backend.Seed {
	return backend.Seed{Size: p.Mesh.Size, DeviationFactor: p.Mesh.DeviationFactor, MinSizeFactor: p.Mesh.MinSizeFactor}
}

// Timing returns the step timing in engine terms.
func (p *Plan) Timing() backend.StepTiming {
	return backend.StepTiming{Period: p.Step.Period, MaxIncrement: p.Step.MaxIncrement}
}

// SubroutinePath resolves the user subroutine against dir unless it is absolute.
func (p *Plan) SubroutinePath(dir string) string {
	if p.UserSubroutine == "" || filepath.IsAbs(p.UserSubroutine) {
		return p.UserSubroutine
	}
	return filepath.Join(dir, p.UserSubroutine)
}

// Validate checks the plan for errors that would only surface mid-sweep.
func (p *Plan) Validate() error {
	switch {
	case p.Model.Name == "":
		return fmt.Errorf("%w: model name is required", ErrInvalidPlan)
	case p.Model.Targets.Part == "" || p.Model.Targets.Feature == "" || p.Model.Targets.Step == "" ||
		p.Model.Targets.InteractionProperty == "" || p.Model.Targets.VelocityField == "":
		return fmt.Errorf("%w: every model target must be named", ErrInvalidPlan)
	case p.Job.Prefix == "":
		return fmt.Errorf("%w: job prefix is required", ErrInvalidPlan)
	case p.Job.CPUs <= 0:
		return fmt.Errorf("%w: job cpus must be positive, got %d", ErrInvalidPlan, p.Job.CPUs)
	case p.Job.MemoryPercent <= 0 || p.Job.MemoryPercent > 100:
		return fmt.Errorf("%w: job memory_percent must be in 1..100, got %d", ErrInvalidPlan, p.Job.MemoryPercent)
	case p.Job.Timeout <= 0:
		return fmt.Errorf("%w: job timeout must be positive", ErrInvalidPlan)
	case p.Mesh.Size <= 0:
		return fmt.Errorf("%w: mesh size must be positive", ErrInvalidPlan)
	case p.Step.Period <= 0 || p.Step.MaxIncrement <= 0:
		return fmt.Errorf("%w: step period and max_increment must be positive", ErrInvalidPlan)
	case p.Extraction.NodeSet == "" || p.Extraction.Field == "":
		return fmt.Errorf("%w: extraction node_set and field are required", ErrInvalidPlan)
	case p.Extraction.Component < 0:
		return fmt.Errorf("%w: extraction component must not be negative", ErrInvalidPlan)
	case p.Extraction.Divisor <= 0:
		return fmt.Errorf("%w: extraction divisor must be positive", ErrInvalidPlan)
	}

	if _, err := p.Combinations(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	return nil
}
