package pyrunner

import (
	"fmt"
)

// ErrorType categorizes failures of the execution pipeline
type ErrorType string

const (
	// ErrorTypeAssembly means the script could not be synthesized or written.
	// Assembly errors abort before any subprocess is spawned.
	ErrorTypeAssembly ErrorType = "assembly_error"
	// ErrorTypeSpawn means the interpreter executable could not be launched
	ErrorTypeSpawn ErrorType = "spawn_error"
	// ErrorTypeTimeout means the process exceeded its wall-clock budget
	ErrorTypeTimeout ErrorType = "timeout_error"
	// ErrorTypeRuntime means the user script exited non-zero
	ErrorTypeRuntime ErrorType = "runtime_error"
	// ErrorTypeParse means stdout could not be classified as requested.
	// Parse errors are never fatal.
	ErrorTypeParse ErrorType = "parse_error"
	// ErrorTypeConfig means the node configuration is invalid
	ErrorTypeConfig ErrorType = "config_error"
	// ErrorTypeInternal covers unexpected orchestrator failures
	ErrorTypeInternal ErrorType = "internal_error"
)

// ExecError represents a structured execution pipeline error
type ExecError struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

// Error implements the error interface
func (e *ExecError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *ExecError) Unwrap() error {
	return e.Err
}

// NewAssemblyError creates an error for script synthesis failures
func NewAssemblyError(message string, err error) *ExecError {
	return &ExecError{Type: ErrorTypeAssembly, Message: message, Err: err}
}

// NewSpawnError creates an error for interpreter launch failures
func NewSpawnError(message string, err error) *ExecError {
	return &ExecError{Type: ErrorTypeSpawn, Message: message, Err: err}
}

// NewTimeoutError creates an error naming the configured timeout
func NewTimeoutError(timeout string) *ExecError {
	return &ExecError{
		Type:    ErrorTypeTimeout,
		Message: fmt.Sprintf("execution exceeded the configured timeout of %s", timeout),
	}
}

// NewConfigError creates an error for invalid node configuration
func NewConfigError(message string) *ExecError {
	return &ExecError{Type: ErrorTypeConfig, Message: message}
}

// NewInternalError creates an error for unexpected orchestrator failures
func NewInternalError(message string) *ExecError {
	return &ExecError{Type: ErrorTypeInternal, Message: message}
}

// WrapError wraps a regular error as an internal error. ExecError values
// pass through unchanged.
func WrapError(err error) *ExecError {
	if err == nil {
		return nil
	}
	if execErr, ok := err.(*ExecError); ok {
		return execErr
	}
	return &ExecError{Type: ErrorTypeInternal, Message: err.Error(), Err: err}
}
