package job

import (
	"errors"
	"fmt"
)

// Failure kinds. Every error returned by Orchestrator.Run matches exactly one
// of these with errors.Is, except request validation errors.
var (
	ErrLookup        = errors.New("input lookup failed")
	ErrIO            = errors.New("host signal write failed")
	ErrTimeout       = errors.New("scratch mount wait failed")
	ErrDownload      = errors.New("input download failed")
	ErrToolExecution = errors.New("verifyBamID failed")
	ErrUpload        = errors.New("artifact upload failed")
	ErrResource      = errors.New("working directory failure")
)

// kinds lists the failure kinds for KindOf.
var kinds = []error{ErrLookup, ErrIO, ErrTimeout, ErrDownload, ErrToolExecution, ErrUpload, ErrResource}

// StageError records which stage failed, how it is classified, and the
// underlying cause.
type StageError struct {
	// State is the state the job was trying to enter.
	State State
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.State, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.State, e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// FailedState returns the stage named by the first StageError in err's tree.
func FailedState(err error) (State, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.State, true
	}
	return "", false
}

// KindOf returns the failure kind err carries, or nil.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// kindedError lets a stage body that spans two kinds of work say which one
// failed.
type kindedError struct {
	kind error
	err  error
}

func (e *kindedError) Error() string { return e.err.Error() }
func (e *kindedError) Unwrap() error { return e.err }

func withKind(kind, err error) error {
	if err == nil {
		return nil
	}
	return &kindedError{kind: kind, err: err}
}
