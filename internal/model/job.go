package model

import "time"

// Job record status constants.
const (
	StatusPending   = "pending"
	StatusSubmitted = "submitted"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusTimedOut  = "timed_out"
)

// Outcome constants describe how a combination finished. They distinguish where a
// failure happened, which the job status alone cannot (an extraction failure
// follows a completed job).
const (
	OutcomeCompleted        = "completed"
	OutcomeMutationFailed   = "mutation_failed"
	OutcomeJobFailed        = "job_failed"
	OutcomeTimedOut         = "timed_out"
	OutcomeExtractionFailed = "extraction_failed"
	OutcomeInterrupted      = "interrupted"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusSubmitted: true,
		StatusFailed:    true,
	},
	StatusSubmitted: {
		StatusCompleted: true,
		StatusFailed:    true,
		StatusTimedOut:  true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status is a final job status.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// JobRecord tracks one combination through the sweep. It is held in memory while the
// combination is processed and mirrored into the job ledger.
type JobRecord struct {
	ID          string      `json:"id"`
	SweepID     string      `json:"sweep_id"`
	Name        string      `json:"name"`
	Combination Combination `json:"combination"`
	Status      string      `json:"status"`
	Outcome     string      `json:"outcome,omitempty"`
	Residual    *float64    `json:"residual,omitempty"`
	Error       string      `json:"error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	SubmittedAt *time.Time  `json:"submitted_at,omitempty"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
	DurationMS  *int        `json:"duration_ms,omitempty"`
}

// NewJobRecord returns a pending record for combination c.
func NewJobRecord(sweepID, name string, c Combination) *JobRecord {
	return &JobRecord{
		ID:          NewID(),
		SweepID:     sweepID,
		Name:        name,
		Combination: c,
		Status:      StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
}
