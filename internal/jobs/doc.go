// Package jobs runs one analysis job at a time against the engine: it submits the
// job bound to the mutated model, then blocks until the engine reports a terminal
// state or the job deadline passes. A job that outlives its deadline is killed and
// reported as timed out instead of stalling the sweep.
package jobs
