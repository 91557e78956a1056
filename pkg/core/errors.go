package core

import "errors"

var (
	// ErrValidation marks a failure of the current unit of work: malformed
	// TOML shape, an empty repo filter list, a zero-page document. The host
	// stays up; the failing work item is reported and dropped.
	ErrValidation = errors.New("validation error")

	// ErrInvariant marks a logic bug rather than an environment fault —
	// a duplicate engram id during consolidation, a node missing from the
	// progress tree. Fatal to the current process.
	ErrInvariant = errors.New("invariant violation")
)
