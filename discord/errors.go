package discord

import (
	"errors"
	"fmt"
)

// ErrNotMember is returned by membership lookups when the subject is not a
// member of the guild (Discord answers 404 on the member endpoints).
var ErrNotMember = errors.New("not a member of the guild")

// ErrTimeout is returned when a Discord API call exceeds its time bound.
// Callers get a distinct error rather than a hung request.
var ErrTimeout = errors.New("discord api call timed out")

// APIError is a non-success response from the Discord API.
type APIError struct {
	// Operation is the logical call that failed (e.g. "fetch profile").
	Operation string

	// Status is the HTTP status code, or zero for transport failures.
	Status int

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("discord: %s failed with status %d", e.Operation, e.Status)
	}
	return fmt.Sprintf("discord: %s failed: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying cause.
func (e *APIError) Unwrap() error {
	return e.Err
}
