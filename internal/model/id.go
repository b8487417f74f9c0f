package model

import "github.com/oklog/ulid/v2"

// NewID generates a ULID string used as the identifier for domains and runs.
// ULIDs sort by creation time, which keeps list queries index-friendly.
func NewID() string {
	return ulid.Make().String()
}
