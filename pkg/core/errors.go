package core

import (
	"errors"
	"fmt"
)

// Admission and resolution errors, surfaced at submit time before any job
// record exists.
var (
	ErrCapacityExceeded = errors.New("market: principal has too many jobs in flight")
	ErrUnknownPlugin    = errors.New("market: no plugin registered under that kind and name")
)

// State errors. The state machine is the single authority on legality;
// illegal transitions are rejected, never coerced.
var (
	ErrInvalidTransition = errors.New("market: illegal job state transition")
	ErrInvalidState      = errors.New("market: job is not in a state that permits this operation")
	ErrNotFound          = errors.New("market: job not found")
)

// Lease errors, returned to the calling evaluator. A failed claim or submit
// leaves the job exactly as it was.
var (
	ErrAlreadyClaimed = errors.New("market: job is already claimed by another holder")
	ErrLeaseExpired   = errors.New("market: lease has expired")
	ErrNotLeaseHolder = errors.New("market: caller does not hold the lease on this job")
)

// Storage errors.
var (
	ErrTokenConflict = errors.New("market: concurrency token mismatch, job was mutated concurrently")
)

// Validation errors.
var (
	ErrInvalidPluginName = errors.New("market: invalid plugin name (must be alphanumeric, start with letter)")
	ErrPluginNameTooLong = errors.New("market: plugin name too long")
	ErrInputTooLarge     = errors.New("market: request input exceeds size limit")
)

// Plugin failure sentinels, wrapped by ExecutionError when they surface
// from a pipeline run.
var (
	ErrDataUnavailable = errors.New("market: feeder could not produce a dataset")
	ErrInference       = errors.New("market: predictor failed to produce a result")
)

// ExecutionError wraps a feeder/predictor/pipeline failure recorded into a
// job's terminal Failed state. Stage names the plugin kind that failed.
type ExecutionError struct {
	Stage string
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("market: %s execution failed: %v", e.Stage, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Execution wraps err as an ExecutionError for the given stage.
func Execution(stage string, err error) error {
	return &ExecutionError{Stage: stage, Err: err}
}
