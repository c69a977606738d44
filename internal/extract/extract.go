// Package extract reads the end-of-simulation value of a field at a reference
// node set from a completed job's output artifact.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/seantiz/impactsweep/internal/backend"
)

// DefaultDivisor converts native velocity (mm/s) into the reporting unit (m/s).
const DefaultDivisor = 1000.0

// ErrMalformedOutput is wrapped by every extraction error. A malformed artifact
// never yields a zero value.
var ErrMalformedOutput = errors.New("malformed output")

var (
	ErrNoSteps         = fmt.Errorf("%w: no steps", ErrMalformedOutput)
	ErrNoFrames        = fmt.Errorf("%w: no frames in last step", ErrMalformedOutput)
	ErrNodeSetNotFound = fmt.Errorf("%w: node set not found", ErrMalformedOutput)
	ErrFieldNotFound   = fmt.Errorf("%w: field not found", ErrMalformedOutput)
	ErrEmptySubset     = fmt.Errorf("%w: node set holds no values", ErrMalformedOutput)
	ErrComponentRange  = fmt.Errorf("%w: component out of range", ErrMalformedOutput)
)

// Query locates the scalar to read.
type Query struct {
	Path      string
	NodeSet   string
	Field     string
	Component int
}

// Extractor reads scalars through the engine's output API.
type Extractor struct {
	reader  backend.OutputReader
	divisor float64
	logger  *slog.Logger
}

// New creates an extractor dividing every raw value by divisor. A non-positive
// divisor falls back to DefaultDivisor.
func New(reader backend.OutputReader, divisor float64, logger *slog.Logger) *Extractor {
	if divisor <= 0 {
		divisor = DefaultDivisor
	}
	return &Extractor{reader: reader, divisor: divisor, logger: logger}
}

// Divisor returns the unit conversion divisor.
func (x *Extractor) Divisor() float64 {
	return x.divisor
}

// Extract opens the artifact at q.Path and returns component q.Component of
// field q.Field at the first node of q.NodeSet, taken from the last frame of the
// last step and divided by the configured divisor. No earlier frame is consulted.
func (x *Extractor) Extract(ctx context.Context, q Query) (float64, error) {
	out, err := x.reader.OpenOutput(ctx, q.Path)
	if err != nil {
		return 0, fmt.Errorf("open output %s: %w", q.Path, err)
	}
	defer func() {
		if err := out.Close(); err != nil {
			x.logger.Warn("failed to close output", "path", q.Path, "error", err)
		}
	}()

	steps, err := out.Steps(ctx)
	if err != nil {
		return 0, fmt.Errorf("list steps: %w", err)
	}
	if len(steps) == 0 {
		return 0, ErrNoSteps
	}
	step := steps[len(steps)-1]

	frames, err := out.FrameCount(ctx, step)
	if err != nil {
		return 0, fmt.Errorf("count frames of %s: %w", step, err)
	}
	if frames <= 0 {
		return 0, fmt.Errorf("%w: step %s", ErrNoFrames, step)
	}
	frame := frames - 1

	values, err := out.FieldValues(ctx, backend.FieldQuery{
		Step:    step,
		Frame:   frame,
		Field:   q.Field,
		NodeSet: q.NodeSet,
	})
	switch {
	case errors.Is(err, backend.ErrNodeSetNotFound):
		return 0, fmt.Errorf("%w: %q", ErrNodeSetNotFound, q.NodeSet)
	case errors.Is(err, backend.ErrFieldNotFound):
		return 0, fmt.Errorf("%w: %q", ErrFieldNotFound, q.Field)
	case err != nil:
		return 0, fmt.Errorf("read field %s: %w", q.Field, err)
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("%w: %q", ErrEmptySubset, q.NodeSet)
	}

	data := values[0].Data
	if q.Component < 0 || q.Component >= len(data) {
		return 0, fmt.Errorf("%w: %d of %d", ErrComponentRange, q.Component, len(data))
	}

	raw := data[q.Component]
	x.logger.Debug("value extracted",
		"path", q.Path,
		"step", step,
		"frame", frame,
		"node", values[0].Node,
		"raw", raw,
	)
	return raw / x.divisor, nil
}
