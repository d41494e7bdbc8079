package store

import "errors"

// Sentinel errors returned by the canonical store. Callers compare with
// errors.Is; the job engine and fan-out policy translate these into the
// taxonomy's error codes (see internal/jobengine).
var (
	// ErrNotFound is returned by single-row lookups that find nothing.
	ErrNotFound = errors.New("store: not found")

	// ErrClosed is returned once the store has been closed.
	ErrClosed = errors.New("store: closed")

	// ErrAlreadyVerified is the distinct condition raised when a new
	// verification does not improve on the deployment's current
	// SourcifyMatch on either axis (§4.2 failure model).
	ErrAlreadyVerified = errors.New("store: already verified with an equal or better match")

	// ErrMissingBytecode names a verification with neither runtime nor
	// creation bytecode. No store method returns it; the canonical store
	// sink reports that case with its own coded error.
	ErrMissingBytecode = errors.New("store: verification has neither runtime nor creation bytecode")

	// ErrDanglingReference names a removal blocked by rows that still point
	// at the target. No store method returns it: ReplaceSourcifyMatch
	// overwrites the pointer in place and only checks that a row exists.
	ErrDanglingReference = errors.New("store: cannot remove row with dangling references")
)
