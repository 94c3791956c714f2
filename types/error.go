package types

import "fmt"

// ErrorCode represents a unified error code across the engine.
type ErrorCode string

// Invocation error codes
const (
	ErrInvocationRetryable ErrorCode = "INVOCATION_RETRYABLE"
	ErrInvocationFatal     ErrorCode = "INVOCATION_FATAL"
	ErrInvocationTimeout   ErrorCode = "INVOCATION_TIMEOUT"
	ErrRateLimited         ErrorCode = "RATE_LIMITED"
)

// Guardrail error codes
const (
	ErrGuardrailRejected  ErrorCode = "GUARDRAIL_REJECTED"
	ErrGuardrailExhausted ErrorCode = "GUARDRAIL_EXHAUSTED"
	ErrVerdictUnparsable  ErrorCode = "VERDICT_UNPARSABLE"
)

// Routing error codes
const (
	ErrNoMatchingOutcome ErrorCode = "NO_MATCHING_OUTCOME"
	ErrNoEligibleTarget  ErrorCode = "NO_ELIGIBLE_TARGET"
)

// Run-level error codes
const (
	ErrStepBudgetExhausted ErrorCode = "STEP_BUDGET_EXHAUSTED"
	ErrRunCancelled        ErrorCode = "RUN_CANCELLED"
	ErrGraphInvalid        ErrorCode = "GRAPH_INVALID"
	ErrCheckpointFailed    ErrorCode = "CHECKPOINT_FAILED"
	ErrInternalError       ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	NodeID    string    `json:"node_id,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithNodeID attaches the originating node ID.
func (e *Error) WithNodeID(nodeID string) *Error {
	e.NodeID = nodeID
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
