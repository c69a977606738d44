// Package sweep drives a full parameter sweep: it opens the template model
// once, then takes every combination of the grid through mutate, submit and
// await, extract and record, strictly one at a time.
//
// A failure in any of the first three stages is confined to its combination:
// it is written as a failed row and the sweep moves on. Failures to persist a
// row, and cancellation of the caller's context, end the sweep.
package sweep
