package symtab

import "errors"

// Errors for table operations.
var (
	// ErrScopeNotFound is returned when a scope id does not exist.
	ErrScopeNotFound = errors.New("scope not found")
)
