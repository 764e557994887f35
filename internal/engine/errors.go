package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies what step of a deployment operation failed.
type ErrorKind string

const (
	KindUnknownModule   ErrorKind = "UnknownModule"
	KindDependencyCycle ErrorKind = "DependencyCycle"
	KindRenderError     ErrorKind = "RenderError"
	KindApplyError      ErrorKind = "ApplyError"
	KindHealthTimeout   ErrorKind = "HealthTimeout"
	KindRollbackError   ErrorKind = "RollbackError"
	KindConflict        ErrorKind = "Conflict"
)

// ModuleError is the engine's error type. Module is empty for errors that
// are not attributable to a single module, such as dependency cycles.
type ModuleError struct {
	Module string
	Kind   ErrorKind
	Err    error
}

func (e *ModuleError) Error() string {
	if e.Module == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("module %s: %s: %v", e.Module, e.Kind, e.Err)
}

func (e *ModuleError) Unwrap() error { return e.Err }

// KindOf extracts the error kind from an engine error chain.
func KindOf(err error) (ErrorKind, bool) {
	var merr *ModuleError
	if errors.As(err, &merr) {
		return merr.Kind, true
	}
	return "", false
}
