package session

import "errors"

var (
	// ErrNotFound is returned when no session has the requested id
	ErrNotFound = errors.New("session not found")
	// ErrStaleGeneration is returned for results of a superseded run
	ErrStaleGeneration = errors.New("stale run generation")
	// ErrDuplicateRole is returned when an append would store a role twice
	ErrDuplicateRole = errors.New("duplicate role in session")
	// ErrInvalidScore is returned when completion is requested without a 1-3 score
	ErrInvalidScore = errors.New("completion requires a score between 1 and 3")
	// ErrPersist wraps snapshot save failures. The in-memory change has been applied.
	ErrPersist = errors.New("failed to persist sessions")
)
