package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by backends for a key or catalog they do not hold.
	ErrNotFound = errors.New("not found")

	// ErrStaleResult rejects recommendations computed against a profile or
	// catalog the session has since replaced.
	ErrStaleResult = errors.New("stale recommendation result")

	ErrStepNotAllowed = errors.New("workflow step not allowed")
)

// PersistenceError reports a snapshot that was accepted in memory but could
// not be written. The previously committed snapshot is still intact.
type PersistenceError struct {
	Key     string
	Version int
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist session %s version %d: %v", e.Key, e.Version, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
