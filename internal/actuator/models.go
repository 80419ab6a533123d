// internal/actuator/models.go
package actuator

import (
	"github.com/xkilldash9x/deskpilot/internal/coords"
	"github.com/xkilldash9x/deskpilot/internal/store"
)

// ErrorCode classifies a failed action for logs and the UI.
type ErrorCode string

const (
	ErrCodeUnknownAction     ErrorCode = "UNKNOWN_ACTION"
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
	ErrCodeGeometryInvalid   ErrorCode = "GEOMETRY_INVALID"
	ErrCodeExecutionFailure  ErrorCode = "EXECUTION_FAILURE"
	ErrCodeTimeoutError      ErrorCode = "TIMEOUT_ERROR"
	ErrCodeCancelled         ErrorCode = "CANCELLED"
	ErrCodeStoreFailure      ErrorCode = "STORE_FAILURE"
	ErrCodeExecutorPanic     ErrorCode = "EXECUTOR_PANIC"
)

// Result is the outcome of one action. Execute never returns an error;
// failures are carried here.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`

	// Code and Language are set by display_code.
	Code     string `json:"code,omitempty"`
	Language string `json:"language,omitempty"`

	// Output is the full combined output of a terminal command; Message
	// holds the truncated form.
	Output   string `json:"output,omitempty"`
	ExitCode int    `json:"exit_code,omitempty"`

	// Point is the mapped screen position for spatial actions.
	Point *coords.Point `json:"point,omitempty"`

	// Data carries documents and informational payloads for the UI.
	Data interface{} `json:"data,omitempty"`

	ErrorCode ErrorCode `json:"error_code,omitempty"`
}

// Store is the preference and library persistence the actuator writes through.
type Store interface {
	ReadPreferences() (map[string]interface{}, error)
	WritePreferences(updates map[string]interface{}) (map[string]interface{}, error)
	ReadLibraries() (*store.Libraries, error)
	WriteLibrary(kind, name, version string) (*store.Libraries, error)
}

func ok(msg string) Result { return Result{Success: true, Message: msg} }

func fail(code ErrorCode, msg string) Result {
	return Result{Success: false, Message: msg, ErrorCode: code}
}
