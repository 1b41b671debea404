package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error codes returned by the supervisor and surfaced to front ends.
const (
	CodeAlreadyManaged  = "already_managed"
	CodeServerNotFound  = "server_not_found"
	CodeSpawnFailed     = "spawn_failed"
	CodeNotOwned        = "not_owned"
	CodeStopFailed      = "stop_failed"
	CodeProcessNotFound = "process_not_found"
	CodeNotRunning      = "not_running"
	CodeNoInterface     = "no_interface"
	CodeBadRequest      = "bad_request"
)

// AppError represents a structured application error.
type AppError struct {
	// HTTPStatusCode is the HTTP status code to return.
	HTTPStatusCode int `json:"-"`
	// Code is an internal error code string.
	Code string `json:"code"`
	// Message is the user-facing error message.
	Message string `json:"message"`
	// Details provides additional error context (optional).
	Details map[string]interface{} `json:"details,omitempty"`
	// Err is the underlying error (not marshaled to JSON).
	Err error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AppError carrying the same code, so callers can
// match with errors.Is against the package sentinels.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok || t == nil || e == nil {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// ToJSON returns the JSON byte representation of the error.
func (e *AppError) ToJSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// New creates a new AppError.
func New(statusCode int, code, message string, err error) *AppError {
	return &AppError{
		HTTPStatusCode: statusCode,
		Code:           code,
		Message:        message,
		Err:            err,
	}
}

// Sentinels for errors.Is matching. Parameterized constructors below return
// fresh values with the same codes.
var (
	ErrAlreadyManaged  = New(http.StatusConflict, CodeAlreadyManaged, "server process is already managed", nil)
	ErrServerNotFound  = New(http.StatusNotFound, CodeServerNotFound, "could not find server directory", nil)
	ErrSpawnFailed     = New(http.StatusInternalServerError, CodeSpawnFailed, "failed to start server", nil)
	ErrNotOwned        = New(http.StatusForbidden, CodeNotOwned, "server was not started by this app; use force_external to stop it anyway", nil)
	ErrStopFailed      = New(http.StatusInternalServerError, CodeStopFailed, "failed to stop server", nil)
	ErrProcessNotFound = New(http.StatusNotFound, CodeProcessNotFound, "could not find process listening on port", nil)
	ErrNotRunning      = New(http.StatusConflict, CodeNotRunning, "server is not running", nil)
	ErrNoInterface     = New(http.StatusServiceUnavailable, CodeNoInterface, "no usable network interface", nil)
)

// AlreadyManaged is returned by start while this supervisor holds a child.
func AlreadyManaged() *AppError {
	return New(http.StatusConflict, CodeAlreadyManaged, ErrAlreadyManaged.Message, nil)
}

// ServerNotFound wraps a failed server directory discovery.
func ServerNotFound(err error) *AppError {
	return New(http.StatusNotFound, CodeServerNotFound, ErrServerNotFound.Message, err)
}

// SpawnFailed wraps the reason the child process could not be started.
func SpawnFailed(err error) *AppError {
	return New(http.StatusInternalServerError, CodeSpawnFailed, ErrSpawnFailed.Message, err)
}

// NotOwned is returned when stopping an external server without force.
func NotOwned() *AppError {
	return New(http.StatusForbidden, CodeNotOwned, ErrNotOwned.Message, nil)
}

// StopFailed wraps the reason a kill did not succeed.
func StopFailed(err error) *AppError {
	return New(http.StatusInternalServerError, CodeStopFailed, ErrStopFailed.Message, err)
}

// ProcessNotFound is returned when no pid is listening on port.
func ProcessNotFound(port int) *AppError {
	e := New(http.StatusNotFound, CodeProcessNotFound, fmt.Sprintf("could not find process listening on port %d", port), nil)
	e.Details = map[string]interface{}{"port": port}
	return e
}

// NotRunning is returned by stop when there is nothing to stop.
func NotRunning() *AppError {
	return New(http.StatusConflict, CodeNotRunning, ErrNotRunning.Message, nil)
}

// NoInterface wraps a failed local address lookup.
func NoInterface(err error) *AppError {
	return New(http.StatusServiceUnavailable, CodeNoInterface, ErrNoInterface.Message, err)
}

// BadRequest reports malformed control API input.
func BadRequest(message string, err error) *AppError {
	return New(http.StatusBadRequest, CodeBadRequest, message, err)
}
