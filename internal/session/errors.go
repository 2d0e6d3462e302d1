package session

import "errors"

// Errors for session operations.
var (
	// ErrInvalidTransition is returned for illegal state changes.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNoInterpreter is returned when the session has no execution
	// engine attached.
	ErrNoInterpreter = errors.New("no interpreter attached")
)
