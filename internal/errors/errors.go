// Package errors provides structured error types for luahook.
// These errors carry a hint that tells the caller (a human, an MCP client or
// the control-channel peer) how to correct course when something goes wrong.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a category of error for programmatic handling
type ErrorCode string

const (
	// Hook core errors
	CodePathResolutionFailed  ErrorCode = "PATH_RESOLUTION_FAILED"
	CodeBreakpointSyncInvalid ErrorCode = "BREAKPOINT_SYNC_INVALID"
	CodeChannelFailed         ErrorCode = "CHANNEL_FAILED"

	// Control channel errors
	CodePeerConnectFailed ErrorCode = "PEER_CONNECT_FAILED"
	CodePeerClosed        ErrorCode = "PEER_CLOSED"
	CodeConditionFailed   ErrorCode = "CONDITION_FAILED"

	// Replay errors
	CodeTraceInvalid ErrorCode = "TRACE_INVALID"

	// Session errors
	CodeSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionLimitReached ErrorCode = "SESSION_LIMIT_REACHED"

	// Parameter errors
	CodeMissingParameter ErrorCode = "MISSING_PARAMETER"
	CodeInvalidParameter ErrorCode = "INVALID_PARAMETER"
	CodeInvalidJSON      ErrorCode = "INVALID_JSON"

	// Configuration errors
	CodeConfigNotFound ErrorCode = "CONFIG_NOT_FOUND"
	CodeConfigInvalid  ErrorCode = "CONFIG_INVALID"
)

// DebugError is a structured error type that includes helpful information
// about what went wrong and how to fix it.
type DebugError struct {
	// Code is a machine-readable error category
	Code ErrorCode `json:"code"`

	// Message is a human-readable description of what went wrong
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

// Is matches another DebugError by code, so errors.Is(err, &DebugError{Code: c}) works
func (e *DebugError) Is(target error) bool {
	t, ok := target.(*DebugError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// HasCode reports whether err carries a DebugError with the given code
func HasCode(err error, code ErrorCode) bool {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// --- Hook Core Errors ---

// PathResolutionFailed creates an error when a chunk name cannot be mapped to a file
func PathResolutionFailed(raw string, err error) *DebugError {
	return &DebugError{
		Code:    CodePathResolutionFailed,
		Message: fmt.Sprintf("could not resolve source %q: %v", raw, err),
		Hint:    "Check the cwd and fileExtension settings; sources loaded from strings or host buffers have no file path.",
		Cause:   err,
		Details: map[string]interface{}{
			"source": raw,
		},
	}
}

// BreakpointSyncInvalid creates an error for a malformed breakpoint payload
func BreakpointSyncInvalid(path string, line int, reason string) *DebugError {
	return &DebugError{
		Code:    CodeBreakpointSyncInvalid,
		Message: fmt.Sprintf("invalid breakpoint %s:%d: %s", path, line, reason),
		Hint:    "The whole payload was rejected and the previous breakpoints are still active. Send a corrected set.",
		Details: map[string]interface{}{
			"path":   path,
			"line":   line,
			"reason": reason,
		},
	}
}

// ChannelFailed creates an error for a failed control-channel call
func ChannelFailed(operation string, err error) *DebugError {
	return &DebugError{
		Code:    CodeChannelFailed,
		Message: fmt.Sprintf("control channel %s failed: %v", operation, err),
		Hint:    "The peer may have gone away. The session falls back to disconnected and keeps running.",
		Cause:   err,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// --- Control Channel Errors ---

// PeerConnectFailed creates an error when dialing the debug peer fails
func PeerConnectFailed(address string, err error) *DebugError {
	return &DebugError{
		Code:    CodePeerConnectFailed,
		Message: fmt.Sprintf("failed to connect to debug peer at %s: %v", address, err),
		Hint:    "Ensure the debugger front end is listening on the configured address and transport.",
		Cause:   err,
		Details: map[string]interface{}{
			"address": address,
		},
	}
}

// PeerClosed creates an error for an operation on a closed peer
func PeerClosed() *DebugError {
	return &DebugError{
		Code:    CodePeerClosed,
		Message: "debug peer connection is closed",
		Hint:    "The front end disconnected. It will be reconnected on the next poll window.",
	}
}

// ConditionFailed creates an error for condition or log-point evaluation failures
func ConditionFailed(expression string, err error) *DebugError {
	return &DebugError{
		Code:    CodeConditionFailed,
		Message: fmt.Sprintf("failed to evaluate expression '%s': %v", expression, err),
		Hint:    "Check the Lua syntax of the expression and that referenced locals are in scope.",
		Cause:   err,
		Details: map[string]interface{}{
			"expression": expression,
		},
	}
}

// --- Replay Errors ---

// TraceInvalid creates an error for an unparseable trace record
func TraceInvalid(line int, reason string) *DebugError {
	return &DebugError{
		Code:    CodeTraceInvalid,
		Message: fmt.Sprintf("invalid trace record at line %d: %s", line, reason),
		Hint:    `Each line must be a JSON object such as {"event":"line","source":"@a.lua","line":3}.`,
		Details: map[string]interface{}{
			"line":   line,
			"reason": reason,
		},
	}
}

// --- Session Errors ---

// SessionNotFound creates an error for when a session ID doesn't exist
func SessionNotFound(sessionID string) *DebugError {
	return &DebugError{
		Code:    CodeSessionNotFound,
		Message: fmt.Sprintf("session '%s' not found", sessionID),
		Hint:    "Use hook_list_sessions to see active sessions, or use hook_replay to create a new session.",
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
		Hint:    "Use hook_end to terminate an existing session before creating a new one.",
		Details: map[string]interface{}{
			"maxSessions": maxSessions,
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

// InvalidJSON creates an error for JSON parsing failures
func InvalidJSON(paramName string, err error, example string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidJSON,
		Message: fmt.Sprintf("invalid JSON in parameter '%s': %v", paramName, err),
		Hint:    fmt.Sprintf("Provide valid JSON. Example: %s", example),
		Cause:   err,
		Details: map[string]interface{}{
			"parameter": paramName,
			"example":   example,
		},
	}
}

// --- Configuration Errors ---

// ConfigNotFound creates an error for missing launch.json configurations
func ConfigNotFound(configName string, availableConfigs []string) *DebugError {
	var hint string
	if len(availableConfigs) > 0 {
		hint = fmt.Sprintf("Available configurations: %s", strings.Join(availableConfigs, ", "))
	} else {
		hint = "No Lua configurations found in launch.json. Create a launch configuration first."
	}

	return &DebugError{
		Code:    CodeConfigNotFound,
		Message: fmt.Sprintf("configuration '%s' not found in launch.json", configName),
		Hint:    hint,
		Details: map[string]interface{}{
			"configName":       configName,
			"availableConfigs": availableConfigs,
		},
	}
}

// ConfigInvalid creates an error for invalid configuration
func ConfigInvalid(configName, reason string) *DebugError {
	return &DebugError{
		Code:    CodeConfigInvalid,
		Message: fmt.Sprintf("configuration '%s' is invalid: %s", configName, reason),
		Hint:    "Check the configuration file for syntax errors and ensure all values are in range.",
		Details: map[string]interface{}{
			"configName": configName,
			"reason":     reason,
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
