package backendtest

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/seantiz/impactsweep/internal/backend"
)

// Output is an in-memory output artifact. Fields maps field name to node set to
// node values; every frame returns the same values.
type Output struct {
	StepNames []string
	Frames    map[string]int
	Fields    map[string]map[string][]backend.NodeValue
	// Queries records every FieldValues call.
	Queries []backend.FieldQuery

	closed atomic.Bool
}

var _ backend.Output = (*Output)(nil)

// VelocityOutput returns an artifact with a single step of three frames whose V
// field holds (0, 0, v3) at one node of nodeSet.
func VelocityOutput(nodeSet string, v3 float64) *Output {
	return &Output{
		StepNames: []string{"Step-1"},
		Frames:    map[string]int{"Step-1": 3},
		Fields: map[string]map[string][]backend.NodeValue{
			"V": {nodeSet: {{Node: 1324, Data: []float64{0, 0, v3}}}},
		},
	}
}

// Closed reports whether Close was called.
func (o *Output) Closed() bool {
	return o.closed.Load()
}

func (o *Output) Steps(_ context.Context) ([]string, error) {
	return o.StepNames, nil
}

func (o *Output) FrameCount(_ context.Context, step string) (int, error) {
	n, ok := o.Frames[step]
	if !ok {
		return 0, fmt.Errorf("step %q: %w", step, backend.ErrNotFound)
	}
	return n, nil
}

func (o *Output) FieldValues(_ context.Context, q backend.FieldQuery) ([]backend.NodeValue, error) {
	o.Queries = append(o.Queries, q)
	sets, ok := o.Fields[q.Field]
	if !ok {
		return nil, fmt.Errorf("field %q: %w", q.Field, backend.ErrFieldNotFound)
	}
	values, ok := sets[q.NodeSet]
	if !ok {
		return nil, fmt.Errorf("node set %q: %w", q.NodeSet, backend.ErrNodeSetNotFound)
	}
	return values, nil
}

func (o *Output) Close() error {
	o.closed.Store(true)
	return nil
}
