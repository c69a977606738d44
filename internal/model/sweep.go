package model

import "time"

// Sweep status constants.
const (
	SweepRunning  = "running"
	SweepFinished = "finished"
	SweepAborted  = "aborted"
)

// Sweep is one invocation of the orchestrator over a full grid.
type Sweep struct {
	ID         string     `json:"id"`
	Status     string     `json:"status"`
	PlanPath   string     `json:"plan_path,omitempty"`
	Total      int        `json:"total"`
	Attempted  int        `json:"attempted"`
	Succeeded  int        `json:"succeeded"`
	Failed     int        `json:"failed"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
