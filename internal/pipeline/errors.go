package pipeline

import (
	"errors"
	"fmt"
)

var (
	ErrBuild                = errors.New("build failed")
	ErrImageNotFound        = errors.New("base image not found")
	ErrNetwork              = errors.New("network failure")
	ErrUpgrade              = errors.New("installer upgrade failed")
	ErrIO                   = errors.New("staging failed")
	ErrDependencyResolution = errors.New("dependency resolution failed")
	ErrMetadata             = errors.New("package metadata error")
	ErrRuntime              = errors.New("engine failure")
	ErrExport               = errors.New("image export failed")
	ErrCacheMiss            = errors.New("cached layer unavailable")
)

// Failure of a single pipeline step.
//
// Matches [ErrBuild] and, through Unwrap, the sentinel that classifies the
// cause.
type StepError struct {
	Step  string // Name of the failing step.
	State State  // State the pipeline was in when the step started.
	Env   Env    // Handle at the point of failure, in [StateFailed].
	Err   error  // Classified cause.
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s (from %s): %v", e.Step, e.State, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) Is(target error) bool {
	return target == ErrBuild
}
