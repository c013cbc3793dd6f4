// Package errors provides structured error types for the dontbug MCP server.
// These errors include hints that tell the calling agent how to recover,
// for example which tool to call next.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a category of error for programmatic handling
type ErrorCode string

const (
	// Session errors
	CodeSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionLimitReached ErrorCode = "SESSION_LIMIT_REACHED"
	CodeSessionTerminated   ErrorCode = "SESSION_TERMINATED"
	CodeNotPaused           ErrorCode = "NOT_PAUSED"

	// Program errors
	CodeProgramLoadFailed  ErrorCode = "PROGRAM_LOAD_FAILED"
	CodeEngineIncompatible ErrorCode = "ENGINE_INCOMPATIBLE"

	// Parameter errors
	CodeMissingParameter ErrorCode = "MISSING_PARAMETER"
	CodeInvalidParameter ErrorCode = "INVALID_PARAMETER"

	// Permission errors
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// Configuration errors
	CodeConfigInvalid ErrorCode = "CONFIG_INVALID"

	// Runtime errors
	CodeBreakpointFailed ErrorCode = "BREAKPOINT_FAILED"
	CodeEvaluationFailed ErrorCode = "EVALUATION_FAILED"
	CodeStepFailed       ErrorCode = "STEP_FAILED"
	CodeCommandFailed    ErrorCode = "COMMAND_FAILED"

	// Connection errors
	CodeIDEConnectFailed ErrorCode = "IDE_CONNECT_FAILED"
)

// DebugError is a structured error type that includes helpful information
// for the agent to understand what went wrong and how to fix it.
type DebugError struct {
	// Code is a machine-readable error category
	Code ErrorCode `json:"code"`

	// Message is a readable description of what went wrong
	Message string `json:"message"`

	// Hint provides actionable guidance on how to fix the error
	Hint string `json:"hint,omitempty"`

	// Details contains additional context (e.g., the invalid value, expected format)
	Details map[string]interface{} `json:"details,omitempty"`

	// Cause is the underlying error, if any
	Cause error `json:"-"`
}

// Error implements the error interface
func (e *DebugError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Hint != "" {
		sb.WriteString(" | Hint: ")
		sb.WriteString(e.Hint)
	}

	return sb.String()
}

// Unwrap returns the underlying error for error chaining
func (e *DebugError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to the error
func (e *DebugError) WithDetails(key string, value interface{}) *DebugError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *DebugError) WithCause(err error) *DebugError {
	e.Cause = err
	return e
}

// HasCode reports whether err is a DebugError with the given code.
func HasCode(err error, code ErrorCode) bool {
	var de *DebugError
	return stderrors.As(err, &de) && de.Code == code
}

// --- Session Errors ---

// SessionNotFound creates an error for when a session ID doesn't exist
func SessionNotFound(sessionID string) *DebugError {
	return &DebugError{
		Code:    CodeSessionNotFound,
		Message: fmt.Sprintf("session '%s' not found", sessionID),
		Hint:    "Use debug_list_sessions to see active sessions, or use debug_launch to create a new session.",
		Details: map[string]interface{}{
			"sessionId": sessionID,
		},
	}
}

// SessionLimitReached creates an error when max sessions is reached
func SessionLimitReached(maxSessions int) *DebugError {
	return &DebugError{
		Code:    CodeSessionLimitReached,
		Message: fmt.Sprintf("maximum number of sessions (%d) reached", maxSessions),
		Hint:    "Use debug_disconnect to terminate an existing session before creating a new one.",
		Details: map[string]interface{}{
			"maxSessions": maxSessions,
		},
	}
}

// SessionTerminated creates an error for a session whose program has
// stopped
func SessionTerminated(sessionID string) *DebugError {
	return &DebugError{
		Code:    CodeSessionTerminated,
		Message: fmt.Sprintf("session '%s' has stopped", sessionID),
		Hint:    "The program ran to completion or faulted. Use debug_snapshot to read its final state, then debug_disconnect.",
		Details: map[string]interface{}{
			"sessionId": sessionID,
		},
	}
}

// NotPaused creates an error for inspection requested while the program
// is not parked at a break
func NotPaused(sessionID, status string) *DebugError {
	return &DebugError{
		Code:    CodeNotPaused,
		Message: fmt.Sprintf("session '%s' is not paused (status: %s)", sessionID, status),
		Hint:    "Commands run against a frozen point in history. Set a breakpoint or step until the session reports status 'break'.",
		Details: map[string]interface{}{
			"sessionId": sessionID,
			"status":    status,
		},
	}
}

// --- Program Errors ---

// ProgramLoadFailed creates an error for listings that cannot be loaded
func ProgramLoadFailed(program string, err error) *DebugError {
	return &DebugError{
		Code:    CodeProgramLoadFailed,
		Message: fmt.Sprintf("failed to load program: %v", err),
		Hint:    "Check that the path points to a readable assembler listing and that it assembles without errors.",
		Cause:   err,
		Details: map[string]interface{}{
			"program": program,
		},
	}
}

// EngineIncompatible creates an error for a program whose .engine
// constraint the running engine does not satisfy
func EngineIncompatible(constraint, engine string, err error) *DebugError {
	return &DebugError{
		Code:    CodeEngineIncompatible,
		Message: fmt.Sprintf("program requires engine %s, running %s", constraint, engine),
		Hint:    "Relax the program's .engine directive or run a matching dontbug version.",
		Cause:   err,
		Details: map[string]interface{}{
			"constraint": constraint,
			"engine":     engine,
		},
	}
}

// --- Parameter Errors ---

// MissingParameter creates an error for missing required parameters
func MissingParameter(paramName, description string) *DebugError {
	return &DebugError{
		Code:    CodeMissingParameter,
		Message: fmt.Sprintf("required parameter '%s' is missing", paramName),
		Hint:    description,
		Details: map[string]interface{}{
			"parameter": paramName,
		},
	}
}

// InvalidParameter creates an error for invalid parameter values
func InvalidParameter(paramName string, value interface{}, expected string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidParameter,
		Message: fmt.Sprintf("invalid value for parameter '%s': %v", paramName, value),
		Hint:    fmt.Sprintf("Expected: %s", expected),
		Details: map[string]interface{}{
			"parameter": paramName,
			"value":     value,
			"expected":  expected,
		},
	}
}

// --- Permission Errors ---

// PermissionDenied creates an error for permission denied
func PermissionDenied(operation, mode string) *DebugError {
	var hint string
	switch operation {
	case "launch":
		hint = "The server is configured to disallow launching programs. Ask the administrator to enable 'allow_launch' in the configuration."
	case "evaluate":
		hint = "Expression evaluation is disabled in the current server mode. This may be intentional for security reasons."
	case "live":
		hint = "Commands against the live session context need full mode. Omit 'live' to run against a frozen copy."
	default:
		hint = fmt.Sprintf("This operation is not allowed in '%s' mode.", mode)
	}

	return &DebugError{
		Code:    CodePermissionDenied,
		Message: fmt.Sprintf("%s is not allowed in current server mode", operation),
		Hint:    hint,
		Details: map[string]interface{}{
			"operation": operation,
			"mode":      mode,
		},
	}
}

// --- Configuration Errors ---

// ConfigInvalid creates an error for invalid configuration
func ConfigInvalid(path, reason string) *DebugError {
	return &DebugError{
		Code:    CodeConfigInvalid,
		Message: fmt.Sprintf("configuration '%s' is invalid: %s", path, reason),
		Hint:    "Check the TOML file for syntax errors and unknown values.",
		Details: map[string]interface{}{
			"path":   path,
			"reason": reason,
		},
	}
}

// --- Runtime Errors ---

// BreakpointFailed creates an error for breakpoint failures
func BreakpointFailed(path string, line int, reason string) *DebugError {
	return &DebugError{
		Code:    CodeBreakpointFailed,
		Message: fmt.Sprintf("could not set breakpoint at %s:%d", path, line),
		Hint:    fmt.Sprintf("Reason: %s. Use the filename shown in debug_snapshot frames and a line number greater than zero.", reason),
		Details: map[string]interface{}{
			"path":   path,
			"line":   line,
			"reason": reason,
		},
	}
}

// EvaluationFailed creates an error for expression evaluation failures
func EvaluationFailed(expression string, err error) *DebugError {
	return &DebugError{
		Code:    CodeEvaluationFailed,
		Message: fmt.Sprintf("failed to evaluate expression '%s': %v", expression, err),
		Hint:    "Expressions support locals of the selected frame, integer and string literals, parentheses and the operators + - *.",
		Cause:   err,
		Details: map[string]interface{}{
			"expression": expression,
		},
	}
}

// StepFailed creates an error for step failures
func StepFailed(stepType string, err error) *DebugError {
	var hint string
	switch stepType {
	case "over":
		hint = "Step over failed. The program may have halted or faulted. Use debug_snapshot to check the current state."
	case "into":
		hint = "Step into failed. The program may have halted or faulted."
	case "out":
		hint = "Step out failed. The program may have halted before returning to a shallower frame."
	default:
		hint = "Valid step kinds are 'into', 'over' and 'out'."
	}

	return &DebugError{
		Code:    CodeStepFailed,
		Message: fmt.Sprintf("step %s failed: %v", stepType, err),
		Hint:    hint,
		Cause:   err,
		Details: map[string]interface{}{
			"stepType": stepType,
		},
	}
}

// CommandFailed creates an error for a DBGp command the session could not
// execute at all
func CommandFailed(command string, err error) *DebugError {
	return &DebugError{
		Code:    CodeCommandFailed,
		Message: fmt.Sprintf("debug command '%s' failed: %v", command, err),
		Hint:    "Commands take the form 'name -i <transaction id> [-x value ...] [-- base64]'. The frozen copy was discarded, and the session is unchanged.",
		Cause:   err,
		Details: map[string]interface{}{
			"command": command,
		},
	}
}

// --- Connection Errors ---

// IDEConnectFailed creates an error for an IDE that could not be reached
func IDEConnectFailed(address string, err error) *DebugError {
	return &DebugError{
		Code:    CodeIDEConnectFailed,
		Message: fmt.Sprintf("IDE at %s is not reachable: %v", address, err),
		Hint:    "Start listening for DBGp debugger connections in the IDE first, then retry with its host:port.",
		Cause:   err,
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// --- Helper for wrapping generic errors ---

// Wrap wraps a generic error with context
func Wrap(code ErrorCode, message string, hint string, err error) *DebugError {
	return &DebugError{
		Code:    code,
		Message: message,
		Hint:    hint,
		Cause:   err,
	}
}

// FromError creates a DebugError from a generic error, attempting to preserve any existing structure
func FromError(err error) *DebugError {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de
	}
	return &DebugError{
		Code:    "UNKNOWN_ERROR",
		Message: err.Error(),
		Hint:    "An unexpected error occurred. Please check the error message for details.",
		Cause:   err,
	}
}
