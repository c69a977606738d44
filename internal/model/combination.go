package model

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultJobPrefix is the job name prefix used by the ball impact study.
const DefaultJobPrefix = "Ball-Impact"

// velocityScale converts the native velocity (mm/s) into the unit embedded in job
// names and reported in the results table.
const velocityScale = 1000.0

// Combination is one point of the parameter grid.
type Combination struct {
	Friction  float64 `json:"friction"`
	Velocity  float64 `json:"velocity"`
	Thickness float64 `json:"thickness"`
}

// String implements fmt.Stringer.
func (c Combination) String() string {
	return fmt.Sprintf("friction=%s velocity=%s thickness=%s",
		FormatFloat(c.Friction), FormatFloat(c.Velocity), FormatFloat(c.Thickness))
}

// JobName derives the job identity for c:
//
//	<prefix>-<round(velocity/1000)>-<friction without '.'>-<thickness without '.'>
//
// e.g. Ball-Impact-129-02-52 for friction 0.2, velocity 129000, thickness 5.2.
// A negative component is written with a leading 'm' (velocity -30000 gives
// m30) so the sign never reads as a separator.
func JobName(prefix string, c Combination) string {
	v := int64(math.Round(c.Velocity / velocityScale))
	return prefix + "-" + signed(strconv.FormatInt(v, 10)) +
		"-" + stripDot(c.Friction) +
		"-" + stripDot(c.Thickness)
}

// FormatFloat renders v in its shortest exact decimal form. Every number leaving
// the process goes through here so the stored representation is canonical.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func stripDot(v float64) string {
	return signed(strings.Replace(FormatFloat(v), ".", "", 1))
}

func signed(s string) string {
	if rest, ok := strings.CutPrefix(s, "-"); ok {
		return "m" + rest
	}
	return s
}
