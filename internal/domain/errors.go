package domain

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
)

// ErrorKind categorizes orchestrator errors for the API boundary.
type ErrorKind string

const (
	// ErrorKindConfiguration indicates a malformed stage configuration
	// (cyclic or dangling required dependencies). Fatal, never retried.
	ErrorKindConfiguration ErrorKind = "configuration"

	// ErrorKindStageExecution indicates a stage implementation failed.
	ErrorKindStageExecution ErrorKind = "stage_execution"

	// ErrorKindTimeout indicates a stage exceeded its time budget.
	// Treated identically to a stage execution failure.
	ErrorKindTimeout ErrorKind = "timeout"

	// ErrorKindCanceled indicates the run was cancelled externally.
	ErrorKindCanceled ErrorKind = "canceled"

	// ErrorKindReplayNotFound indicates no trace data exists for the
	// requested trace or thread.
	ErrorKindReplayNotFound ErrorKind = "replay_not_found"

	// ErrorKindReplayIntegrity indicates trace data exists but cannot
	// be trusted (e.g. a completed entry with no output delta).
	ErrorKindReplayIntegrity ErrorKind = "replay_integrity"

	// ErrorKindNotFound indicates a missing resource (stage, thread).
	ErrorKindNotFound ErrorKind = "not_found"

	// ErrorKindInvalidRequest indicates a malformed API request.
	ErrorKindInvalidRequest ErrorKind = "invalid_request"
)

// PipelineError is the structured error returned across the
// orchestrator and replay boundaries. Errors are returned as values,
// never panicked across component boundaries.
type PipelineError struct {
	Kind    ErrorKind `json:"kind"`
	StageID string    `json:"stage_id,omitempty"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *PipelineError) Error() string {
	if e.StageID != "" {
		return fmt.Sprintf("%s (stage %s): %s", e.Kind, e.StageID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// HTTPStatusCode maps the error kind to an HTTP status for the API layer.
func (e *PipelineError) HTTPStatusCode() int {
	switch e.Kind {
	case ErrorKindInvalidRequest:
		return http.StatusBadRequest
	case ErrorKindNotFound, ErrorKindReplayNotFound:
		return http.StatusNotFound
	case ErrorKindReplayIntegrity:
		return http.StatusConflict
	case ErrorKindConfiguration:
		return http.StatusUnprocessableEntity
	case ErrorKindCanceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// ErrConfiguration creates a configuration error.
func ErrConfiguration(message string) *PipelineError {
	return &PipelineError{Kind: ErrorKindConfiguration, Message: message}
}

// ErrStageExecution creates a stage execution error.
func ErrStageExecution(stageID, message string, cause error) *PipelineError {
	return &PipelineError{Kind: ErrorKindStageExecution, StageID: stageID, Message: message, Err: cause}
}

// ErrTimeout creates a stage timeout error.
func ErrTimeout(stageID string) *PipelineError {
	return &PipelineError{Kind: ErrorKindTimeout, StageID: stageID, Message: "stage timed out"}
}

// ErrCanceled creates a cancellation error for a pipeline run.
func ErrCanceled(cause error) *PipelineError {
	return &PipelineError{Kind: ErrorKindCanceled, Message: "pipeline run cancelled", Err: cause}
}

// ErrReplayNotFound creates a replay not-found error.
func ErrReplayNotFound(message string) *PipelineError {
	return &PipelineError{Kind: ErrorKindReplayNotFound, Message: message}
}

// ErrReplayIntegrity creates a replay integrity error.
func ErrReplayIntegrity(stageID, message string) *PipelineError {
	return &PipelineError{Kind: ErrorKindReplayIntegrity, StageID: stageID, Message: message}
}

// ErrNotFound creates a missing-resource error.
func ErrNotFound(message string) *PipelineError {
	return &PipelineError{Kind: ErrorKindNotFound, Message: message}
}

// ErrInvalidRequest creates an invalid request error.
func ErrInvalidRequest(message string) *PipelineError {
	return &PipelineError{Kind: ErrorKindInvalidRequest, Message: message}
}

// KindOf extracts the error kind, or empty string for foreign errors.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

var secretPattern = regexp.MustCompile(`(sk|key)-[a-zA-Z0-9]{20,}`)

// SanitizeMessage redacts credential-shaped tokens from an error
// message before it is persisted in a trace or returned to a client.
func SanitizeMessage(message string) string {
	return secretPattern.ReplaceAllString(message, "[REDACTED]")
}
