package toolexec

import (
	"errors"
	"fmt"
)

// Sentinel errors for tool dispatch.
var (
	// ErrToolNotFound indicates a requested tool doesn't exist.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout indicates a tool execution timed out.
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic indicates a tool panicked during execution.
	ErrToolPanic = errors.New("tool panicked")
)

// ToolErrorType categorizes tool execution errors for retry logic and
// error handling.
type ToolErrorType string

const (
	ToolErrorNotFound     ToolErrorType = "not_found"
	ToolErrorInvalidInput ToolErrorType = "invalid_input"
	ToolErrorTimeout      ToolErrorType = "timeout"
	ToolErrorNetwork      ToolErrorType = "network"
	ToolErrorDenied       ToolErrorType = "denied"
	ToolErrorExecution    ToolErrorType = "execution"
	ToolErrorPanic        ToolErrorType = "panic"
	ToolErrorUnknown      ToolErrorType = "unknown"
)

// IsRetryable returns true if this error type suggests retrying the
// operation may succeed.
func (t ToolErrorType) IsRetryable() bool {
	switch t {
	case ToolErrorTimeout, ToolErrorNetwork:
		return true
	default:
		return false
	}
}

// ToolError is a structured error from tool execution.
type ToolError struct {
	// Type categorizes the error for retry logic.
	Type ToolErrorType

	// ToolName is the name of the tool that failed.
	ToolName string

	// ToolCallID is the ID of the tool call that failed.
	ToolCallID string

	// Message is the human-readable error message.
	Message string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.ToolName != "" {
		return fmt.Sprintf("[tool:%s] %s: %s", e.Type, e.ToolName, msg)
	}
	return fmt.Sprintf("[tool:%s] %s", e.Type, msg)
}

// Unwrap returns the underlying cause.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// NewToolError builds a ToolError.
func NewToolError(t ToolErrorType, toolName, toolCallID, message string, cause error) *ToolError {
	return &ToolError{
		Type:       t,
		ToolName:   toolName,
		ToolCallID: toolCallID,
		Message:    message,
		Cause:      cause,
	}
}
