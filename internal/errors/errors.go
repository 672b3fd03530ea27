// Package errors provides standardized error types for the zencube session
// manager. This enables consistent error handling, categorization, and
// user-friendly messages.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents standardized error categories
type ErrorCode string

const (
	// Validation errors: the request itself was malformed and no work started
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidInput     ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired  ErrorCode = "MISSING_REQUIRED_FIELD"

	// Configuration errors: the host is missing something the run needs
	ErrCodeSandboxNotFound   ErrorCode = "SANDBOX_NOT_FOUND"
	ErrCodeToolchainNotFound ErrorCode = "TOOLCHAIN_NOT_FOUND"
	ErrCodeCompileFailed     ErrorCode = "COMPILE_FAILED"

	// Launch errors: everything checked out but the process did not start
	ErrCodeLaunchFailed ErrorCode = "LAUNCH_FAILED"

	// Session errors
	ErrCodeSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	ErrCodeSessionLimitReached ErrorCode = "SESSION_LIMIT_REACHED"

	// Observation errors: the session keeps running, the observer degraded
	ErrCodeObservationFailed ErrorCode = "OBSERVATION_FAILED"

	// Cleanup errors: logged, never surfaced to callers
	ErrCodeCleanupFailed ErrorCode = "CLEANUP_FAILED"

	// Resource errors
	ErrCodeDatabaseError   ErrorCode = "DATABASE_ERROR"
	ErrCodeFileSystemError ErrorCode = "FILESYSTEM_ERROR"

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

// SandboxError is the standardized error type for the application
type SandboxError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	Details    string         `json:"details,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	Cause      error          `json:"-"`
	Suggestion string         `json:"suggestion,omitempty"`
}

// Error implements the error interface
func (e *SandboxError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with the underlying cause
func (e *SandboxError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *SandboxError) WithContext(key string, value any) *SandboxError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithSuggestion adds a suggestion for the user
func (e *SandboxError) WithSuggestion(suggestion string) *SandboxError {
	e.Suggestion = suggestion
	return e
}

// WithDetails adds detailed information
func (e *SandboxError) WithDetails(details string) *SandboxError {
	e.Details = details
	return e
}

// New creates a new SandboxError
func New(code ErrorCode, message string) *SandboxError {
	return &SandboxError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(cause error, code ErrorCode, message string) *SandboxError {
	return &SandboxError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// Is checks if the error matches the given error code
func Is(err error, code ErrorCode) bool {
	var sbErr *SandboxError
	if errors.As(err, &sbErr) {
		return sbErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	var sbErr *SandboxError
	if errors.As(err, &sbErr) {
		return sbErr.Code
	}
	return ErrCodeInternal
}

// --- Convenience constructors for common errors ---

// InvalidLimit creates a validation error for a malformed resource limit
func InvalidLimit(name string, value int) *SandboxError {
	return New(ErrCodeValidationFailed, fmt.Sprintf("limit %s must be a positive integer, got %d", name, value)).
		WithContext("limit", name).
		WithContext("value", value).
		WithSuggestion("Omit the limit to use the default, or pass a value greater than zero")
}

// MissingRequired creates a missing required field error
func MissingRequired(field string) *SandboxError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("required field missing: %s", field)).
		WithContext("field", field)
}

// InvalidInput creates an invalid input error
func InvalidInput(field, reason string) *SandboxError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("invalid input for %s: %s", field, reason)).
		WithContext("field", field)
}

// SandboxNotFound reports that no executable sandbox binary was found
func SandboxNotFound(searched []string) *SandboxError {
	return New(ErrCodeSandboxNotFound, "sandbox binary not found").
		WithContext("searched", searched).
		WithSuggestion("Build the sandbox binary or point sandbox.binary_path at it")
}

// ToolchainNotFound reports a missing interpreter or compiler
func ToolchainNotFound(tool, target string) *SandboxError {
	return New(ErrCodeToolchainNotFound, fmt.Sprintf("%s is required to run %s but was not found in PATH", tool, target)).
		WithContext("tool", tool).
		WithContext("target", target).
		WithSuggestion(fmt.Sprintf("Install %s on the host", tool))
}

// CompileFailed carries the compiler diagnostics for a failed build step
func CompileFailed(target, diagnostics string) *SandboxError {
	return New(ErrCodeCompileFailed, fmt.Sprintf("compilation of %s failed", target)).
		WithContext("target", target).
		WithDetails(diagnostics)
}

// LaunchFailed wraps an OS-level spawn failure
func LaunchFailed(cause error, command string) *SandboxError {
	return Wrap(cause, ErrCodeLaunchFailed, "failed to start sandboxed process").
		WithContext("command", command)
}

// SessionNotFound creates a session not found error
func SessionNotFound(sessionID string) *SandboxError {
	return New(ErrCodeSessionNotFound, fmt.Sprintf("session not found: %s", sessionID)).
		WithContext("session_id", sessionID).
		WithSuggestion("Use list_sandbox_sessions to see active sessions")
}

// SessionLimitReached creates a session limit error
func SessionLimitReached(current, max int) *SandboxError {
	return New(ErrCodeSessionLimitReached, fmt.Sprintf("maximum concurrent sessions reached: %d/%d", current, max)).
		WithContext("current", current).
		WithContext("max", max).
		WithSuggestion("Stop a running session before starting a new one")
}

// ObservationFailed wraps a post-launch monitoring failure
func ObservationFailed(cause error, sessionID, what string) *SandboxError {
	return Wrap(cause, ErrCodeObservationFailed, fmt.Sprintf("failed to observe %s", what)).
		WithContext("session_id", sessionID)
}

// CleanupFailed wraps an artifact removal failure
func CleanupFailed(cause error, path string) *SandboxError {
	return Wrap(cause, ErrCodeCleanupFailed, "failed to remove session artifact").
		WithContext("path", path)
}

// DatabaseError creates a database error
func DatabaseError(cause error, operation string) *SandboxError {
	return Wrap(cause, ErrCodeDatabaseError, fmt.Sprintf("database operation failed: %s", operation)).
		WithContext("operation", operation).
		WithSuggestion("Check database connection and try again")
}

// FileSystemError creates a filesystem error
func FileSystemError(cause error, path string) *SandboxError {
	return Wrap(cause, ErrCodeFileSystemError, "filesystem operation failed").
		WithContext("path", path).
		WithSuggestion("Check file permissions and disk space")
}

// InternalError creates an internal error
func InternalError(cause error, details string) *SandboxError {
	return Wrap(cause, ErrCodeInternal, "internal error occurred").
		WithDetails(details).
		WithSuggestion("Please report this issue if it persists")
}
