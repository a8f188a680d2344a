// Package domain provides shared domain-level sentinel errors for the chat core.
package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested conversation does not exist.
var ErrNotFound = errors.New("not found")

// ErrAccessDenied indicates the caller does not own the conversation.
var ErrAccessDenied = errors.New("access denied")

// ErrEmptyMessage indicates the submitted message is empty after trimming.
var ErrEmptyMessage = errors.New("message is empty")

// ErrUnknownMode indicates the requested mode is not in the recognized set.
var ErrUnknownMode = errors.New("unknown mode")

// ErrValidation indicates a malformed client input.
var ErrValidation = errors.New("validation failed")

// GenerationCause categorizes a backend generation failure.
type GenerationCause string

const (
	CauseTimeout       GenerationCause = "timeout"
	CauseProviderError GenerationCause = "provider_error"
	CauseInvalidOutput GenerationCause = "invalid_output"
)

// GenerationError is returned when a backend adapter cannot produce output.
// Cause carries the failure category used for metrics and retry decisions.
type GenerationError struct {
	Cause   GenerationCause
	Backend string
	Err     error
}

func (e *GenerationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("generation failed (%s, backend %s)", e.Cause, e.Backend)
	}
	return fmt.Sprintf("generation failed (%s, backend %s): %v", e.Cause, e.Backend, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// NewGenerationError wraps err as a GenerationError with the given cause.
func NewGenerationError(cause GenerationCause, backend string, err error) *GenerationError {
	return &GenerationError{Cause: cause, Backend: backend, Err: err}
}

// GenerationCauseOf extracts the cause from err, or "" if err is not a GenerationError.
func GenerationCauseOf(err error) GenerationCause {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge.Cause
	}
	return ""
}
