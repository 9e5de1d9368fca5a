package types

import (
	"errors"
	"fmt"
)

// ErrorKind is the failure taxonomy the retry policy keys on.
type ErrorKind string

const (
	// KindInvalidInput marks bad ranges or malformed config. Never retried.
	KindInvalidInput ErrorKind = "INVALID_INPUT"
	// KindTransient marks resource exhaustion or network blips. Retried
	// with backoff up to the retry bound.
	KindTransient ErrorKind = "TRANSIENT"
	// KindUnrecoverable marks corrupt media or missing required signals.
	// Terminal on first occurrence.
	KindUnrecoverable ErrorKind = "UNRECOVERABLE"
	// KindCancelled marks a cooperative stop. Terminal, not reported as a
	// failure.
	KindCancelled ErrorKind = "CANCELLED"
)

// TaskError wraps a worker error with the owning task's ID and kind before
// it reaches the orchestrator.
type TaskError struct {
	TaskID string
	Kind   ErrorKind
	Err    error
}

func (e *TaskError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("task %s: %s: %v", e.TaskID, e.Kind, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// WrapTask tags err with a task ID and kind. A nil err returns nil.
func WrapTask(taskID string, kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &TaskError{TaskID: taskID, Kind: kind, Err: err}
}

// Invalid tags err as non-retryable caller error.
func Invalid(err error) error { return WrapTask("", KindInvalidInput, err) }

// Transient tags err as retryable.
func Transient(err error) error { return WrapTask("", KindTransient, err) }

// Unrecoverable tags err as terminal.
func Unrecoverable(err error) error { return WrapTask("", KindUnrecoverable, err) }

// KindOf extracts the taxonomy kind from err. Untagged errors are treated as
// unrecoverable so they never loop through the retry policy by accident.
func KindOf(err error) ErrorKind {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Kind
	}
	return KindUnrecoverable
}

// IsTransient reports whether err should go through the retry policy.
func IsTransient(err error) bool { return KindOf(err) == KindTransient }
