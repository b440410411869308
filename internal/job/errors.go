package job

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned for unknown job ids and unknown artifacts. It is a
	// normal condition, never fatal.
	ErrNotFound = errors.New("not found")

	// ErrTerminal is returned when a mutation targets a job that already completed or failed.
	ErrTerminal = errors.New("job already in terminal state")

	// ErrInvalidTransition is returned when a status change would move a job backwards.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// ValidationError represents a rejected submit or extract request.
type ValidationError struct {
	Field  string // Request field that failed validation
	Reason string // Human-readable explanation
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CollaboratorError represents a failure reported by the download engine:
// network errors, extraction failures, unsupported URLs or a missing toolchain.
type CollaboratorError struct {
	Operation string // The operation that failed (e.g. "download", "extract")
	Message   string // Human-readable message, usually the tail of the engine output
	Err       error  // Underlying error, if any
}

func (e *CollaboratorError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s failed", e.Operation)
	}

	return fmt.Sprintf("%s failed: %s", e.Operation, e.Message)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// UnresolvedPathError is returned when the engine succeeded but none of the
// path resolution strategies found the final artifact.
type UnresolvedPathError struct {
	Tried []string // Strategies attempted, in order
	Err   error    // Last strategy error, if any
}

func (e *UnresolvedPathError) Error() string {
	return fmt.Sprintf("could not determine final downloaded file path (tried %s)", strings.Join(e.Tried, ", "))
}

func (e *UnresolvedPathError) Unwrap() error {
	return e.Err
}

// PathTraversalError is returned for artifact names that would resolve outside
// the download directory.
type PathTraversalError struct {
	Name string
}

func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("invalid file name %q", e.Name)
}

// PanicError wraps a panic recovered at a work unit boundary.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("internal error: %v", e.Value)
}
