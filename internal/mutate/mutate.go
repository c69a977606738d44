// Package mutate applies one parameter combination onto the engine's in-memory
// model. The model state travels as an explicit *State value so the ordering
// requirement between geometry and mesh edits is checked rather than assumed.
package mutate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/seantiz/impactsweep/internal/backend"
	"github.com/seantiz/impactsweep/internal/model"
)

// SlipFraction is the maximum elastic slip of the penalty friction law, as a
// fraction of the characteristic contact surface length.
const SlipFraction = 0.005

var (
	// ErrUnmeshable is returned when meshing a part generates no elements.
	ErrUnmeshable = errors.New("part geometry could not be meshed")

	// ErrStaleMesh is returned when an edit that depends on the mesh runs after a
	// geometry change and before re-meshing.
	ErrStaleMesh = errors.New("mesh is stale after a geometry change")
)

// Targets names the model objects the mutator edits.
type Targets struct {
	Part                string `yaml:"part"`
	Feature             string `yaml:"feature"`
	Step                string `yaml:"step"`
	InteractionProperty string `yaml:"interaction_property"`
	VelocityField       string `yaml:"velocity_field"`
}

// DefaultTargets returns the object names of the ball-strike model.
func DefaultTargets() Targets {
	return Targets{
		Part:                "Plate",
		Feature:             "Solid extrude-1",
		Step:                "Step-1",
		InteractionProperty: "IntProp-1",
		VelocityField:       "Velocity",
	}
}

// Settings are the values applied identically to every combination.
type Settings struct {
	Seed   backend.Seed
	Timing backend.StepTiming
}

// State is the mutable model held by the engine session. It is created once per
// sweep when the model is opened and passed to every mutator call.
type State struct {
	Model   string
	Targets Targets

	thickness    float64
	hasThickness bool
	meshStale    bool
	mesh         backend.MeshStats
}

// NewState returns the state of a freshly opened model.
func NewState(modelName string, targets Targets) *State {
	return &State{Model: modelName, Targets: targets}
}

// Thickness returns the last depth applied and whether one was applied.
func (s *State) Thickness() (float64, bool) {
	return s.thickness, s.hasThickness
}

// MeshStale reports whether geometry changed since the part was last meshed.
func (s *State) MeshStale() bool {
	return s.meshStale
}

// Mesh returns the statistics of the last generated mesh.
func (s *State) Mesh() backend.MeshStats {
	return s.mesh
}

// Mutator edits the model through the engine.
type Mutator struct {
	editor   backend.ModelEditor
	settings Settings
	logger   *slog.Logger
}

// New creates a mutator applying settings through editor.
func New(editor backend.ModelEditor, settings Settings, logger *slog.Logger) *Mutator {
	return &Mutator{editor: editor, settings: settings, logger: logger}
}

// Apply sets every field of c on the model in the only valid order:
// thickness, mesh, step timing, friction, velocity. Meshing and assembly
// regeneration both need the final geometry.
func (m *Mutator) Apply(ctx context.Context, st *State, c model.Combination) error {
	if err := m.SetThickness(ctx, st, c.Thickness); err != nil {
		return fmt.Errorf("set thickness: %w", err)
	}
	if err := m.SetMeshDensity(ctx, st, m.settings.Seed); err != nil {
		return fmt.Errorf("set mesh density: %w", err)
	}
	if err := m.SetStepTiming(ctx, st, m.settings.Timing); err != nil {
		return fmt.Errorf("set step timing: %w", err)
	}
	if err := m.SetContactFriction(ctx, st, c.Friction); err != nil {
		return fmt.Errorf("set contact friction: %w", err)
	}
	if err := m.SetInitialVelocity(ctx, st, c.Velocity); err != nil {
		return fmt.Errorf("set initial velocity: %w", err)
	}

	m.logger.Debug("model mutated",
		"model", st.Model,
		"thickness", c.Thickness,
		"friction", c.Friction,
		"velocity", c.Velocity,
		"elements", st.mesh.Elements,
	)
	return nil
}

// SetThickness edits the extrusion depth and regenerates the part. The mesh is
// invalid afterwards; SetMeshDensity must run before anything else.
func (m *Mutator) SetThickness(ctx context.Context, st *State, depth float64) error {
	t := st.Targets
	st.meshStale = true
	if err := m.editor.SetFeatureDepth(ctx, st.Model, t.Part, t.Feature, depth); err != nil {
		return err
	}
	if err := m.editor.RegeneratePart(ctx, st.Model, t.Part); err != nil {
		return err
	}
	st.thickness, st.hasThickness = depth, true
	return nil
}

// SetMeshDensity deletes the part mesh and regenerates it with seed. A mesh with
// no elements is an error.
func (m *Mutator) SetMeshDensity(ctx context.Context, st *State, seed backend.Seed) error {
	part := st.Targets.Part
	if err := m.editor.DeleteMesh(ctx, st.Model, part); err != nil {
		return err
	}
	if err := m.editor.SeedPart(ctx, st.Model, part, seed); err != nil {
		return err
	}
	stats, err := m.editor.GenerateMesh(ctx, st.Model, part)
	if err != nil {
		return err
	}
	if stats.Elements <= 0 {
		return fmt.Errorf("%w: part %q at thickness %v with element size %v",
			ErrUnmeshable, part, st.thickness, seed.Size)
	}
	st.mesh = stats
	st.meshStale = false
	return nil
}

// SetStepTiming regenerates the assembly and sets the analysis step period and
// maximum increment. It refuses to run on a stale mesh.
func (m *Mutator) SetStepTiming(ctx context.Context, st *State, timing backend.StepTiming) error {
	if st.MeshStale() {
		return ErrStaleMesh
	}
	if err := m.editor.RegenerateAssembly(ctx, st.Model); err != nil {
		return err
	}
	return m.editor.SetStepTiming(ctx, st.Model, st.Targets.Step, timing)
}

// SetContactFriction sets an isotropic penalty friction law with coefficient mu.
func (m *Mutator) SetContactFriction(ctx context.Context, st *State, mu float64) error {
	return m.editor.SetTangentialBehavior(ctx, st.Model, st.Targets.InteractionProperty, backend.TangentialBehavior{
		Formulation:    backend.FormulationPenalty,
		Directionality: backend.DirectionalIsotropic,
		Friction:       mu,
		SlipFraction:   SlipFraction,
	})
}

// SetInitialVelocity sets the third component of the impactor's initial velocity
// field; the other components and the angular velocity are zero.
func (m *Mutator) SetInitialVelocity(ctx context.Context, st *State, v float64) error {
	return m.editor.SetVelocityField(ctx, st.Model, st.Targets.VelocityField, backend.VelocityField{V3: v})
}
