package bridge

import (
	"context"
	"time"

	"github.com/seantiz/impactsweep/internal/backend"
)

// Operations understood by the kernel script.
const (
	OpPing               = "ping"
	OpShutdown           = "shutdown"
	OpOpenModel          = "open_model"
	OpDeleteMesh         = "delete_mesh"
	OpSeedPart           = "seed_part"
	OpGenerateMesh       = "generate_mesh"
	OpRegenerateAssembly = "regenerate_assembly"
	OpSetStepTiming      = "set_step_timing"
	OpSetTangential      = "set_tangential_behavior"
	OpSetVelocityField   = "set_velocity_field"
	OpSetFeatureDepth    = "set_feature_depth"
	OpRegeneratePart     = "regenerate_part"
	OpSubmitJob          = "submit_job"
	OpWaitJob            = "wait_job"
	OpKillJob            = "kill_job"
	OpOpenOutput         = "open_output"
	OpOutputSteps        = "output_steps"
	OpOutputFrameCount   = "output_frame_count"
	OpOutputFieldValues  = "output_field_values"
	OpCloseOutput        = "close_output"
)

var allOps = []string{
	OpPing, OpShutdown, OpOpenModel, OpDeleteMesh, OpSeedPart, OpGenerateMesh,
	OpRegenerateAssembly, OpSetStepTiming, OpSetTangential, OpSetVelocityField,
	OpSetFeatureDepth, OpRegeneratePart, OpSubmitJob, OpWaitJob, OpKillJob,
	OpOpenOutput, OpOutputSteps, OpOutputFrameCount, OpOutputFieldValues, OpCloseOutput,
}

// closeOutputTimeout bounds the close request issued by Output.Close, which has
// no caller context.
const closeOutputTimeout = 30 * time.Second

// Argument payloads, shared by Engine and Serve.
type (
	modelArgs struct {
		Model string `json:"model"`
	}
	partArgs struct {
		Model string `json:"model"`
		Part  string `json:"part"`
	}
	seedArgs struct {
		partArgs
		Seed backend.Seed `json:"seed"`
	}
	stepArgs struct {
		Model  string             `json:"model"`
		Step   string             `json:"step"`
		Timing backend.StepTiming `json:"timing"`
	}
	tangentialArgs struct {
		Model    string                     `json:"model"`
		Property string                     `json:"property"`
		Behavior backend.TangentialBehavior `json:"behavior"`
	}
	velocityArgs struct {
		Model    string                `json:"model"`
		Field    string                `json:"field"`
		Velocity backend.VelocityField `json:"velocity"`
	}
	depthArgs struct {
		partArgs
		Feature string  `json:"feature"`
		Depth   float64 `json:"depth"`
	}
	jobArgs struct {
		Job string `json:"job"`
	}
	pathArgs struct {
		Path string `json:"path"`
	}
	handleArgs struct {
		Handle string `json:"handle"`
	}
	handleResult struct {
		Handle string `json:"handle"`
	}
	frameCountArgs struct {
		handleArgs
		Step string `json:"step"`
	}
	fieldArgs struct {
		handleArgs
		backend.FieldQuery
	}
)

// Compile-time interface satisfaction check.
var _ backend.Engine = (*Engine)(nil)

// Engine implements backend.Engine by forwarding every call to the kernel.
type Engine struct {
	client *Client
}

// NewEngine returns an engine speaking over client.
func NewEngine(client *Client) *Engine {
	return &Engine{client: client}
}

// Ping round-trips a no-op request to check the kernel is responsive.
func (e *Engine) Ping(ctx context.Context) error {
	return e.client.Call(ctx, OpPing, nil, nil)
}

func (e *Engine) OpenModel(ctx context.Context, src backend.ModelSource) error {
	return e.client.Call(ctx, OpOpenModel, src, nil)
}

func (e *Engine) DeleteMesh(ctx context.Context, model, part string) error {
	return e.client.Call(ctx, OpDeleteMesh, partArgs{Model: model, Part: part}, nil)
}

func (e *Engine) SeedPart(ctx context.Context, model, part string, seed backend.Seed) error {
	return e.client.Call(ctx, OpSeedPart, seedArgs{partArgs{model, part}, seed}, nil)
}

func (e *Engine) GenerateMesh(ctx context.Context, model, part string) (backend.MeshStats, error) {
	var stats backend.MeshStats
	err := e.client.Call(ctx, OpGenerateMesh, partArgs{Model: model, Part: part}, &stats)
	return stats, err
}

func (e *Engine) RegenerateAssembly(ctx context.Context, model string) error {
	return e.client.Call(ctx, OpRegenerateAssembly, modelArgs{model}, nil)
}

func (e *Engine) SetStepTiming(ctx context.Context, model, step string, timing backend.StepTiming) error {
	return e.client.Call(ctx, OpSetStepTiming, stepArgs{model, step, timing}, nil)
}

func (e *Engine) SetTangentialBehavior(ctx context.Context, model, property string, b backend.TangentialBehavior) error {
	return e.client.Call(ctx, OpSetTangential, tangentialArgs{model, property, b}, nil)
}

func (e *Engine) SetVelocityField(ctx context.Context, model, field string, v backend.VelocityField) error {
	return e.client.Call(ctx, OpSetVelocityField, velocityArgs{model, field, v}, nil)
}

func (e *Engine) SetFeatureDepth(ctx context.Context, model, part, feature string, depth float64) error {
	return e.client.Call(ctx, OpSetFeatureDepth, depthArgs{partArgs{model, part}, feature, depth}, nil)
}

func (e *Engine) RegeneratePart(ctx context.Context, model, part string) error {
	return e.client.Call(ctx, OpRegeneratePart, partArgs{Model: model, Part: part}, nil)
}

func (e *Engine) SubmitJob(ctx context.Context, spec backend.JobSpec) error {
	return e.client.Call(ctx, OpSubmitJob, spec, nil)
}

// WaitJob blocks in the kernel until the job is terminal. If ctx ends first the
// kernel keeps waiting; its eventual answer is discarded by the client.
func (e *Engine) WaitJob(ctx context.Context, job string) (backend.JobOutcome, error) {
	var out backend.JobOutcome
	err := e.client.Call(ctx, OpWaitJob, jobArgs{Job: job}, &out)
	return out, err
}

func (e *Engine) KillJob(ctx context.Context, job string) error {
	return e.client.Call(ctx, OpKillJob, jobArgs{Job: job}, nil)
}

// OpenOutput opens an artifact in the kernel and returns a handle-backed view
// of it.
func (e *Engine) OpenOutput(ctx context.Context, path string) (backend.Output, error) {
	var res handleResult
	if err := e.client.Call(ctx, OpOpenOutput, pathArgs{path}, &res); err != nil {
		return nil, err
	}
	return &remoteOutput{client: e.client, handle: res.Handle}, nil
}

// remoteOutput is an output database held open by the kernel.
type remoteOutput struct {
	client *Client
	handle string
}

func (o *remoteOutput) Steps(ctx context.Context) ([]string, error) {
	var steps []string
	err := o.client.Call(ctx, OpOutputSteps, handleArgs{o.handle}, &steps)
	return steps, err
}

func (o *remoteOutput) FrameCount(ctx context.Context, step string) (int, error) {
	var n int
	err := o.client.Call(ctx, OpOutputFrameCount, frameCountArgs{handleArgs{o.handle}, step}, &n)
	return n, err
}

func (o *remoteOutput) FieldValues(ctx context.Context, q backend.FieldQuery) ([]backend.NodeValue, error) {
	var values []backend.NodeValue
	err := o.client.Call(ctx, OpOutputFieldValues, fieldArgs{handleArgs{o.handle}, q}, &values)
	return values, err
}

func (o *remoteOutput) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), closeOutputTimeout)
	defer cancel()
	return o.client.Call(ctx, OpCloseOutput, handleArgs{o.handle}, nil)
}
