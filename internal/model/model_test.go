package model

import (
	"regexp"
	"testing"
)

// crockfordBase32 matches valid ULID strings (26 chars, Crockford Base32 alphabet).
var crockfordBase32 = regexp.MustCompile(`^[0123456789ABCDEFGHJKMNPQRSTVWXYZ]{26}$`)

func TestNewIDFormat(t *testing.T) {
	id := NewID()
	if !crockfordBase32.MatchString(id) {
		t.Errorf("NewID() = %q, does not match Crockford Base32 ULID format", id)
	}
}

func TestNewIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if seen[id] {
			t.Fatalf("NewID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}

func TestJobName(t *testing.T) {
	tests := []struct {
		c    Combination
		want string
	}{
		{Combination{Friction: 0.2, Velocity: 129000, Thickness: 5.2}, "Ball-Impact-129-02-52"},
		{Combination{Friction: 0.7, Velocity: 129000, Thickness: 5.2}, "Ball-Impact-129-07-52"},
		{Combination{Friction: 0.35, Velocity: 104000, Thickness: 6}, "Ball-Impact-104-035-6"},
		{Combination{Friction: 1.5, Velocity: 129600, Thickness: 5.25}, "Ball-Impact-130-15-525"},
		{Combination{Friction: 0.2, Velocity: -30000, Thickness: 5.2}, "Ball-Impact-m30-02-52"},
		{Combination{Friction: -0.2, Velocity: 129000, Thickness: -5.2}, "Ball-Impact-129-m02-m52"},
		{Combination{Friction: 0.2, Velocity: -400, Thickness: 5.2}, "Ball-Impact-0-02-52"},
	}
	for _, tt := range tests {
		if got := JobName(DefaultJobPrefix, tt.c); got != tt.want {
			t.Errorf("JobName(%v) = %q, want %q", tt.c, got, tt.want)
		}
	}
}

func TestJobNameDeterministic(t *testing.T) {
	c := Combination{Friction: 0.45, Velocity: 118000, Thickness: 5.7}
	first := JobName("Run", c)
	for i := 0; i < 100; i++ {
		if got := JobName("Run", c); got != first {
			t.Fatalf("JobName changed between calls: %q vs %q", got, first)
		}
	}
}

func TestJobNameDistinct(t *testing.T) {
	combos := []Combination{
		{Friction: 0.2, Velocity: 129000, Thickness: 5.2},
		{Friction: 0.02, Velocity: 129000, Thickness: 5.2},
		{Friction: 0.2, Velocity: 129000, Thickness: 0.52},
		{Friction: 0.2, Velocity: 104000, Thickness: 5.2},
		{Friction: 0.7, Velocity: 129000, Thickness: 5.7},
	}
	seen := make(map[string]Combination)
	for _, c := range combos {
		name := JobName(DefaultJobPrefix, c)
		if prev, ok := seen[name]; ok {
			t.Errorf("JobName collision: %v and %v both map to %q", prev, c, name)
		}
		seen[name] = c
	}
}

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{StatusPending, StatusSubmitted, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusSubmitted, StatusCompleted, true},
		{StatusSubmitted, StatusFailed, true},
		{StatusSubmitted, StatusTimedOut, true},
		{StatusSubmitted, StatusPending, false},
		{StatusCompleted, StatusFailed, false},
		{StatusTimedOut, StatusCompleted, false},
		{"bogus", StatusSubmitted, false},
	}
	for _, tt := range tests {
		if got := ValidTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("ValidTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, s := range []string{StatusCompleted, StatusFailed, StatusTimedOut} {
		if !IsTerminal(s) {
			t.Errorf("IsTerminal(%q) = false, want true", s)
		}
	}
	for _, s := range []string{StatusPending, StatusSubmitted} {
		if IsTerminal(s) {
			t.Errorf("IsTerminal(%q) = true, want false", s)
		}
	}
}

func TestNewJobRecord(t *testing.T) {
	c := Combination{Friction: 0.2, Velocity: 129000, Thickness: 5.2}
	rec := NewJobRecord("sweep-1", "Ball-Impact-129-02-52", c)
	if rec.Status != StatusPending {
		t.Errorf("Status = %q, want %q", rec.Status, StatusPending)
	}
	if !crockfordBase32.MatchString(rec.ID) {
		t.Errorf("ID = %q, want ULID", rec.ID)
	}
	if rec.Combination != c {
		t.Errorf("Combination = %v, want %v", rec.Combination, c)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}
}

func TestFormatFloat(t *testing.T) {
	tests := map[float64]string{
		0.2:       "0.2",
		129:       "129",
		-31.2345:  "-31.2345",
		5.2:       "5.2",
		0.0000015: "0.0000015",
	}
	for in, want := range tests {
		if got := FormatFloat(in); got != want {
			t.Errorf("FormatFloat(%v) = %q, want %q", in, got, want)
		}
	}
}
