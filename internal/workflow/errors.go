package workflow

import (
	"errors"
	"fmt"
)

// ErrNoSession is returned by cycle operations before a session is bound.
var ErrNoSession = errors.New("no session")

// ErrSessionNotFound is returned when resuming an unknown session.
var ErrSessionNotFound = errors.New("session not found")

// ErrStopped is returned by WaitIfPaused once a stop was requested.
var ErrStopped = errors.New("workflow stopped")

// ValidationError reports caller input that violates a precondition.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
