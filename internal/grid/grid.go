// Package grid builds the parameter space of a sweep: one inclusive sequence per
// axis and their cartesian product in a fixed nesting order.
package grid

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/seantiz/impactsweep/internal/model"
)

const (
	// maxDecimals bounds the rounding applied to generated axis values.
	maxDecimals = 9
	// stepTolerance is the fraction of an increment treated as float noise when
	// deciding whether upper was reached.
	stepTolerance = 1e-9
)

// ErrInvalidRange is wrapped by every axis configuration error.
var ErrInvalidRange = errors.New("invalid parameter range")

// ErrIdentityCollision is returned when two combinations derive the same job name.
var ErrIdentityCollision = errors.New("job identity collision")

// RangeError describes a malformed axis.
type RangeError struct {
	Axis   string
	Reason string
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s axis: %s", e.Axis, e.Reason)
}

func (e *RangeError) Unwrap() error { return ErrInvalidRange }

// Axis is either an inclusive range (Lower, Upper, Increment) or, when Points is
// non-empty, an explicit list taken as-is.
type Axis struct {
	Name      string
	Lower     float64
	Upper     float64
	Increment float64
	Points    []float64
}

// Range returns an axis stepping from lower to upper inclusive.
func Range(name string, lower, upper, increment float64) Axis {
	return Axis{Name: name, Lower: lower, Upper: upper, Increment: increment}
}

// List returns an axis with explicit values.
func List(name string, values ...float64) Axis {
	return Axis{Name: name, Points: values}
}

// Values returns the axis sequence.
//
// A range yields floor((upper-lower)/increment)+1 values starting at lower. When
// upper is not reached exactly, one more step past it is added, so (0.2, 0.9, 0.5)
// yields [0.2 0.7 1.2] while (0.2, 0.7, 0.5) yields [0.2 0.7]. "Exactly" allows
// 1e-9 increments of accumulated float error. Values are rounded to the decimal
// precision of lower and increment so that 0.1 steps give 0.3, not
// 0.30000000000000004, which keeps job names stable.
func (a Axis) Values() ([]float64, error) {
	if len(a.Points) > 0 {
		for _, v := range a.Points {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, &RangeError{Axis: a.Name, Reason: "value list contains a non-finite number"}
			}
		}
		out := make([]float64, len(a.Points))
		copy(out, a.Points)
		return out, nil
	}

	if err := a.validate(); err != nil {
		return nil, err
	}

	decimals := max(decimalPlaces(a.Lower), decimalPlaces(a.Increment))
	span := (a.Upper - a.Lower) / a.Increment
	n := int(math.Floor(span+stepTolerance)) + 1
	if span-float64(n-1) > stepTolerance {
		n++
	}

	out := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, round(a.Lower+float64(i)*a.Increment, decimals))
	}
	return out, nil
}

func (a Axis) validate() error {
	for _, v := range []float64{a.Lower, a.Upper, a.Increment} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &RangeError{Axis: a.Name, Reason: "bounds must be finite"}
		}
	}
	if a.Increment <= 0 {
		return &RangeError{Axis: a.Name, Reason: fmt.Sprintf("increment %v must be positive", a.Increment)}
	}
	if a.Upper < a.Lower {
		return &RangeError{Axis: a.Name, Reason: fmt.Sprintf("upper %v is below lower %v", a.Upper, a.Lower)}
	}
	return nil
}

// Generate returns the cartesian product of the three axes. Iteration order is
// thickness outermost, then velocity, then friction innermost; results and job
// names follow this order.
func Generate(thickness, velocity, friction Axis) ([]model.Combination, error) {
	ts, err := thickness.Values()
	if err != nil {
		return nil, err
	}
	vs, err := velocity.Values()
	if err != nil {
		return nil, err
	}
	fs, err := friction.Values()
	if err != nil {
		return nil, err
	}

	combos := make([]model.Combination, 0, len(ts)*len(vs)*len(fs))
	for _, t := range ts {
		for _, v := range vs {
			for _, f := range fs {
				combos = append(combos, model.Combination{Friction: f, Velocity: v, Thickness: t})
			}
		}
	}
	return combos, nil
}

// CheckIdentities verifies that every combination derives a distinct job name.
func CheckIdentities(prefix string, combos []model.Combination) error {
	seen := make(map[string]model.Combination, len(combos))
	for _, c := range combos {
		name := model.JobName(prefix, c)
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("%w: %q derived from both (%v) and (%v)", ErrIdentityCollision, name, prev, c)
		}
		seen[name] = c
	}
	return nil
}

// decimalPlaces counts the digits after the decimal point in v's shortest form.
func decimalPlaces(v float64) int {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return 0
	}
	return min(len(s)-i-1, maxDecimals)
}

func round(v float64, decimals int) float64 {
	r, err := strconv.ParseFloat(strconv.FormatFloat(v, 'f', decimals, 64), 64)
	if err != nil {
		return v
	}
	return r
}
