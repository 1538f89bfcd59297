package tripweave

import (
	"errors"
	"fmt"
)

// Error codes for specific failure types
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeGeneration     = "GENERATION_ERROR"
	ErrCodeGateway        = "GATEWAY_ERROR"
	ErrCodeIncompletePlan = "INCOMPLETE_PLAN"
	ErrCodePipeline       = "PIPELINE_ERROR"
	ErrCodeConfiguration  = "CONFIGURATION_ERROR"
	ErrCodeCancelled      = "EXECUTION_CANCELLED"
	ErrCodeTimeout        = "EXECUTION_TIMEOUT"
	ErrCodeInternal       = "INTERNAL_ERROR"
)

// Error is the error type used across the tripweave runtime.
type Error struct {
	Code    string // A machine-readable error code (e.g., ErrCodeGateway)
	Stage   string // Where the error occurred (a stage ID or a run phase)
	Message string // A human-readable message
	Cause   error  // The underlying error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause, allowing for error chaining.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error.
func NewError(code, stage, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Stage:   stage,
		Message: message,
		Cause:   cause,
	}
}

// Specific error constructors

// NewValidationError reports a malformed TripRequest. The stage field
// carries the first violated constraint's field name.
func NewValidationError(field, message string) *Error {
	return NewError(ErrCodeValidation, field, message, nil)
}

// NewGenerationError reports a failed or timed-out capability call,
// scoped to one stage.
func NewGenerationError(stageID string, cause error) *Error {
	return NewError(ErrCodeGeneration, stageID, "capability generation failed", cause)
}

// NewGatewayError reports a failed or timed-out provider call.
func NewGatewayError(provider string, cause error) *Error {
	return NewError(ErrCodeGateway, provider, fmt.Sprintf("gateway %q fetch failed", provider), cause)
}

// NewIncompletePlanError reports assembly invoked before the terminal
// stage reached a terminal state. A programming-contract violation, not a
// user-facing condition.
func NewIncompletePlanError(terminalStageID string) *Error {
	return NewError(ErrCodeIncompletePlan, "assembly",
		fmt.Sprintf("terminal stage %q has no terminal result", terminalStageID), nil)
}

// NewPipelineError reports an invalid pipeline definition.
func NewPipelineError(message string, cause error) *Error {
	return NewError(ErrCodePipeline, "pipeline", message, cause)
}

// NewConfigurationError reports a misconfigured runtime component.
func NewConfigurationError(message string, cause error) *Error {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

// NewCancelledError reports a run cancelled by the caller.
func NewCancelledError(stage string, cause error) *Error {
	msg := "execution cancelled"
	if cause != nil && cause.Error() != "" && cause.Error() != "context canceled" {
		msg = fmt.Sprintf("execution cancelled: %v", cause)
	}
	return NewError(ErrCodeCancelled, stage, msg, cause)
}

// NewTimeoutError reports a per-call timeout.
func NewTimeoutError(stage string, cause error) *Error {
	return NewError(ErrCodeTimeout, stage, "execution timed out", cause)
}

// NewInternalError reports an invariant violation inside the runtime.
func NewInternalError(stage, message string, cause error) *Error {
	return NewError(ErrCodeInternal, stage, message, cause)
}

// IsCode reports whether err (or anything it wraps) is a tripweave Error
// with the given code.
func IsCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsValidationError reports whether err is a request validation failure.
func IsValidationError(err error) bool { return IsCode(err, ErrCodeValidation) }

// IsGatewayError reports whether err is a provider fetch failure.
func IsGatewayError(err error) bool { return IsCode(err, ErrCodeGateway) }

// IsGenerationError reports whether err is a capability failure.
func IsGenerationError(err error) bool { return IsCode(err, ErrCodeGeneration) }
