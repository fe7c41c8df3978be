package session

import "errors"

// Callers wrap these with fmt.Errorf("%w: ...") and match with errors.Is.
// Anything else returned by this package or its stores is an internal failure.
var (
	ErrValidation   = errors.New("validation failed")
	ErrNotFound     = errors.New("session not found")
	ErrInvalidState = errors.New("invalid session state")
	ErrConflict     = errors.New("session state conflict")
)
