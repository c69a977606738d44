// Package backend defines the contract between the sweep and the external
// finite-element engine: model editing, job execution and output queries, along
// with the value types exchanged across it. Implementations live in subpackages.
package backend
