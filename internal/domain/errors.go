package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidParameter rejects a request before any engine runs.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInvalidWeights is an invalid parameter specific to sub-score weights.
	ErrInvalidWeights = fmt.Errorf("%w: invalid weights", ErrInvalidParameter)

	// ErrRecoverable marks engine failures the orchestrator absorbs by
	// falling back to the next engine.
	ErrRecoverable = errors.New("recoverable engine failure")
)

// EngineFailure records why one engine in the fallback chain did not
// produce a usable result.
type EngineFailure struct {
	Engine EngineTag
	Err    error
}

func (f *EngineFailure) Error() string {
	return fmt.Sprintf("%s engine: %v", f.Engine, f.Err)
}

func (f *EngineFailure) Unwrap() error { return f.Err }

// Recoverable wraps err so errors.Is(err, ErrRecoverable) holds.
func Recoverable(engine EngineTag, err error) error {
	return &EngineFailure{Engine: engine, Err: fmt.Errorf("%w: %w", ErrRecoverable, err)}
}

// IsRecoverable reports whether err is an absorbable engine failure.
func IsRecoverable(err error) bool { return errors.Is(err, ErrRecoverable) }

// NoEngineAvailableError is returned when every engine in the requested
// order failed.
type NoEngineAvailableError struct {
	Failures []EngineFailure
}

func (e *NoEngineAvailableError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, f.Error())
	}
	return "no engine available: " + strings.Join(parts, "; ")
}
