package errors

import (
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ValidationError ErrorType = "VALIDATION_ERROR"
	NotFoundError   ErrorType = "NOT_FOUND"
	ServerError     ErrorType = "SERVER_ERROR"
	ConflictError   ErrorType = "CONFLICT"
	RunnerError     ErrorType = "RUNNER_ERROR"
	EventBusError   ErrorType = "EVENT_BUS_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Raw        error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Detail)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is/As.
func (e *AppError) Unwrap() error {
	return e.Raw
}

// GetHTTPStatus returns the HTTP status for the error, deriving it from the
// error type when none was set explicitly.
func (e *AppError) GetHTTPStatus() int {
	if e.HTTPStatus != 0 {
		return e.HTTPStatus
	}
	return getHTTPStatus(e.Type)
}

// New creates a new AppError
func New(errType ErrorType, message string, detail string) *AppError {
	return &AppError{
		Type:       errType,
		Message:    message,
		Detail:     detail,
		HTTPStatus: getHTTPStatus(errType),
	}
}

// Wrap wraps a raw error with AppError context
func Wrap(err error, errType ErrorType, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Type:       errType,
		Message:    message,
		Detail:     err.Error(),
		HTTPStatus: getHTTPStatus(errType),
		Raw:        err,
	}
}

// Helper functions for common errors
func NotFound(entity string, id interface{}) *AppError {
	return &AppError{
		Type:       NotFoundError,
		Message:    fmt.Sprintf("%s not found", entity),
		Detail:     fmt.Sprintf("ID: %v", id),
		HTTPStatus: http.StatusNotFound,
	}
}

func ValidationFailed(message string, details string) *AppError {
	return &AppError{
		Type:       ValidationError,
		Message:    message,
		Detail:     details,
		HTTPStatus: http.StatusBadRequest,
	}
}

func InternalServerError(message string) *AppError {
	return &AppError{
		Type:       ServerError,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
	}
}

// EndpointNotFound reports a request for an endpoint name that is not in the
// configured monitoring set.
func EndpointNotFound(name string) *AppError {
	return &AppError{
		Type:       NotFoundError,
		Message:    "Endpoint not found",
		Detail:     fmt.Sprintf("Endpoint name: %s", name),
		HTTPStatus: http.StatusNotFound,
	}
}

// RunAlreadyActive reports an attempt to start a test run of a type that is
// still executing.
func RunAlreadyActive(testType string) *AppError {
	return &AppError{
		Type:       ConflictError,
		Message:    "Test run already in progress",
		Detail:     fmt.Sprintf("Test type: %s", testType),
		HTTPStatus: http.StatusConflict,
	}
}

// ResultsNotFound reports that no parsed summary exists yet for a test type.
func ResultsNotFound(testType string) *AppError {
	return &AppError{
		Type:       NotFoundError,
		Message:    "Test results not found",
		Detail:     fmt.Sprintf("Test type: %s", testType),
		HTTPStatus: http.StatusNotFound,
	}
}

// NewRunnerError wraps a failure of the external test runner or report
// generator.
func NewRunnerError(err error, message string) *AppError {
	return &AppError{
		Type:       RunnerError,
		Message:    message,
		Detail:     err.Error(),
		HTTPStatus: http.StatusInternalServerError,
		Raw:        err,
	}
}

func getHTTPStatus(errType ErrorType) int {
	switch errType {
	case ValidationError:
		return http.StatusBadRequest
	case NotFoundError:
		return http.StatusNotFound
	case ConflictError:
		return http.StatusConflict
	case RunnerError, EventBusError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
