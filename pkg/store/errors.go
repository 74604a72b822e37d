package store

import "errors"

// Sentinel errors shared across repositories.
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned when a unique-constraint or idempotency-key
	// insert collides with an existing row.
	ErrConflict = errors.New("entity already exists")

	// ErrCASFailed is returned when an UPDATE ... WHERE status = <expected>
	// compare-and-swap affected zero rows.
	ErrCASFailed = errors.New("compare-and-swap precondition failed")
)
