package documents

import (
	"errors"
	"fmt"

	"medical-center-server/internal/workflow"
)

var (
	// ErrConflict is returned when the visit already has a document.
	ErrConflict = errors.New("document already exists for visit")
	// ErrNotFound is returned when the visit has no document.
	ErrNotFound = errors.New("document not found")

	ErrEmptyFile       = errors.New("file is empty")
	ErrFileTooLarge    = errors.New("file exceeds maximum allowed size")
	ErrUnsupportedType = errors.New("content type is not allowed")
	ErrContentMismatch = errors.New("file content does not match its content type")
	ErrTooManyPixels   = errors.New("image exceeds maximum pixel count")
)

// ValidationError wraps a rejected upload payload.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "invalid upload: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// IneligibleError carries the workflow gate's refusal.
type IneligibleError struct {
	Reason workflow.Reason
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("upload not permitted (%s): %s", e.Reason, e.Reason.Message())
}

// Is makes a refusal for an existing document match ErrConflict, so callers
// see the same outcome whether the gate or the store caught the duplicate.
func (e *IneligibleError) Is(target error) bool {
	return target == ErrConflict && e.Reason == workflow.ReasonDocumentAlreadyExists
}

// NormalizationError means an image could not be decoded or re-encoded.
// Nothing is stored when it occurs.
type NormalizationError struct {
	Err error
}

func (e *NormalizationError) Error() string { return "normalize image: " + e.Err.Error() }
func (e *NormalizationError) Unwrap() error { return e.Err }
