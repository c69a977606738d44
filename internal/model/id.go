package model

import "github.com/oklog/ulid/v2"

// NewID generates a new ULID string used for sweep and job record identifiers.
func NewID() string {
	return ulid.Make().String()
}
