package grid

import (
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/seantiz/impactsweep/internal/model"
)

func TestAxisValues(t *testing.T) {
	tests := []struct {
		name string
		axis Axis
		want []float64
	}{
		{"upper not reached exactly", Range("friction", 0.2, 0.9, 0.5), []float64{0.2, 0.7, 1.2}},
		{"thickness default", Range("thickness", 5.2, 5.9, 0.5), []float64{5.2, 5.7, 6.2}},
		{"upper reached exactly", Range("friction", 0.2, 0.7, 0.5), []float64{0.2, 0.7}},
		{"single value", Range("velocity", 129000, 129000, 1000), []float64{129000}},
		{"increment wider than span", Range("friction", 0.1, 0.3, 1), []float64{0.1, 1.1}},
		{"float accumulation rounded", Range("friction", 0, 0.3, 0.1), []float64{0, 0.1, 0.2, 0.3}},
		{"explicit list", List("velocity", 129000, 104000), []float64{129000, 104000}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.axis.Values()
			if err != nil {
				t.Fatalf("Values: %v", err)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("Values = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAxisValuesCardinality(t *testing.T) {
	a := Range("friction", 0.05, 0.95, 0.05)
	got, err := a.Values()
	if err != nil {
		t.Fatalf("Values: %v", err)
	}
	if len(got) != 19 {
		t.Fatalf("len = %d, want 19 (%v)", len(got), got)
	}
	if got[len(got)-1] != 0.95 {
		t.Errorf("last = %v, want 0.95", got[len(got)-1])
	}
}

// Axis lengths follow arange(lower, upper+increment, increment): one value per
// whole step plus a trailing step when upper falls between grid points.
func TestAxisValuesStepPastUpper(t *testing.T) {
	tests := []struct {
		lower, upper, inc float64
		want              int
	}{
		{0.2, 0.9, 0.5, 3},
		{5.2, 5.9, 0.5, 3},
		{0.2, 0.7, 0.5, 2},
		{0.2, 0.2, 0.5, 1},
		{0, 1, 0.3, 5},
		{0, 0.9, 0.3, 4},
	}
	for _, tt := range tests {
		got, err := Range("friction", tt.lower, tt.upper, tt.inc).Values()
		if err != nil {
			t.Fatalf("Values(%v, %v, %v): %v", tt.lower, tt.upper, tt.inc, err)
		}
		if len(got) != tt.want {
			t.Errorf("Values(%v, %v, %v) = %v, want %d values", tt.lower, tt.upper, tt.inc, got, tt.want)
		}
		if last := got[len(got)-1]; last < tt.upper-1e-9 {
			t.Errorf("Values(%v, %v, %v) stops at %v, below upper", tt.lower, tt.upper, tt.inc, last)
		}
	}
}

func TestAxisValuesInvalid(t *testing.T) {
	tests := []struct {
		name string
		axis Axis
	}{
		{"zero increment", Range("friction", 0.2, 0.9, 0)},
		{"negative increment", Range("friction", 0.2, 0.9, -0.5)},
		{"upper below lower", Range("thickness", 5.9, 5.2, 0.5)},
		{"nan bound", Range("velocity", math.NaN(), 1, 1)},
		{"inf in list", List("velocity", 1, math.Inf(1))},
		{"zero axis", Axis{Name: "friction"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.axis.Values()
			if !errors.Is(err, ErrInvalidRange) {
				t.Fatalf("error = %v, want ErrInvalidRange", err)
			}
			var re *RangeError
			if !errors.As(err, &re) {
				t.Fatalf("error %T is not *RangeError", err)
			}
			if re.Axis != tt.axis.Name {
				t.Errorf("Axis = %q, want %q", re.Axis, tt.axis.Name)
			}
		})
	}
}

func TestGenerateOrder(t *testing.T) {
	combos, err := Generate(
		List("thickness", 5.2, 5.7),
		List("velocity", 104000, 129000),
		List("friction", 0.2),
	)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := []model.Combination{
		{Friction: 0.2, Velocity: 104000, Thickness: 5.2},
		{Friction: 0.2, Velocity: 129000, Thickness: 5.2},
		{Friction: 0.2, Velocity: 104000, Thickness: 5.7},
		{Friction: 0.2, Velocity: 129000, Thickness: 5.7},
	}
	if !slices.Equal(combos, want) {
		t.Errorf("Generate = %v, want %v", combos, want)
	}
}

func TestGenerateFrictionInnermost(t *testing.T) {
	combos, err := Generate(
		List("thickness", 5.2),
		List("velocity", 129000),
		Range("friction", 0.2, 0.9, 0.5),
	)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(combos) != 3 {
		t.Fatalf("len = %d, want 3", len(combos))
	}
	if combos[0].Friction != 0.2 || combos[1].Friction != 0.7 || combos[2].Friction != 1.2 {
		t.Errorf("friction order = %v; want 0.2, 0.7, 1.2", combos)
	}
}

func TestGenerateInvalidAxis(t *testing.T) {
	_, err := Generate(
		List("thickness", 5.2),
		Range("velocity", 2, 1, 1),
		List("friction", 0.2),
	)
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("error = %v, want ErrInvalidRange", err)
	}
}

func TestCheckIdentities(t *testing.T) {
	ok := []model.Combination{
		{Friction: 0.2, Velocity: 129000, Thickness: 5.2},
		{Friction: 0.7, Velocity: 129000, Thickness: 5.2},
	}
	if err := CheckIdentities(model.DefaultJobPrefix, ok); err != nil {
		t.Errorf("CheckIdentities: %v", err)
	}

	// 129000 and 129200 both round to 129 km/h-equivalent units.
	clash := []model.Combination{
		{Friction: 0.2, Velocity: 129000, Thickness: 5.2},
		{Friction: 0.2, Velocity: 129200, Thickness: 5.2},
	}
	if err := CheckIdentities(model.DefaultJobPrefix, clash); !errors.Is(err, ErrIdentityCollision) {
		t.Errorf("error = %v, want ErrIdentityCollision", err)
	}
}
