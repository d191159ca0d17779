package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced to clients.
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeAlreadyTaken       = "ALREADY_TAKEN"
	CodeAlreadyCancelled   = "ALREADY_CANCELLED"
	CodeNoDriversFound     = "NO_DRIVERS_FOUND"
	CodeChannelUnavailable = "CHANNEL_UNAVAILABLE"
	CodeDriverUnavailable  = "DRIVER_UNAVAILABLE"
	CodeRideInProgress     = "RIDE_IN_PROGRESS"
	CodeNotFound           = "NOT_FOUND"
	CodeForbidden          = "FORBIDDEN"
	CodeConflict           = "CONFLICT"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// AppError represents an application error with HTTP status code
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is reports whether target is an AppError with the same code, so
// errors.Is(err, ErrAlreadyTaken) holds for any ALREADY_TAKEN error.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewAppError creates a new AppError
func NewAppError(code, message string, status int, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// InvalidInput creates a 400 error for malformed coordinates or missing fields
func InvalidInput(message string, err error) *AppError {
	return NewAppError(CodeInvalidInput, message, http.StatusBadRequest, err)
}

// InvalidTransition creates a 409 error for a state machine guard violation
func InvalidTransition(message string) *AppError {
	return NewAppError(CodeInvalidTransition, message, http.StatusConflict, nil)
}

// Forbidden creates a 403 error
func Forbidden(message string, err error) *AppError {
	return NewAppError(CodeForbidden, message, http.StatusForbidden, err)
}

// NotFound creates a 404 error
func NotFound(message string, err error) *AppError {
	return NewAppError(CodeNotFound, message, http.StatusNotFound, err)
}

// Conflict creates a 409 error
func Conflict(message string, err error) *AppError {
	return NewAppError(CodeConflict, message, http.StatusConflict, err)
}

// Internal creates a 500 error
func Internal(message string, err error) *AppError {
	return NewAppError(CodeInternal, message, http.StatusInternalServerError, err)
}

// ServiceUnavailable creates a 503 error
func ServiceUnavailable(message string, err error) *AppError {
	return NewAppError(CodeServiceUnavailable, message, http.StatusServiceUnavailable, err)
}

// Domain-specific errors

var (
	ErrRideNotFound = NotFound("Ride not found", nil)

	ErrInvalidCoordinates = InvalidInput("Invalid coordinates", nil)
	ErrInvalidTransition  = InvalidTransition("Invalid status transition")
	ErrNotBoundDriver     = InvalidTransition("Caller is not the driver bound to this ride")
	ErrNotRideParticipant = NewAppError(CodeInvalidTransition, "Caller is not a participant of this ride", http.StatusConflict, nil)

	ErrAlreadyTaken      = NewAppError(CodeAlreadyTaken, "Ride was already accepted by another driver", http.StatusConflict, nil)
	ErrAlreadyCancelled  = NewAppError(CodeAlreadyCancelled, "Ride was already cancelled", http.StatusConflict, nil)
	ErrDriverUnavailable = NewAppError(CodeDriverUnavailable, "Driver is not available", http.StatusConflict, nil)
	ErrRideInProgress    = NewAppError(CodeRideInProgress, "Rider already has a ride in progress", http.StatusConflict, nil)
	ErrDriverOnRide      = NewAppError(CodeRideInProgress, "Driver has a ride in progress", http.StatusConflict, nil)

	ErrChannelUnavailable = NewAppError(CodeChannelUnavailable, "Actor has no live channel", http.StatusServiceUnavailable, nil)

	ErrEstimatorUnavailable = ServiceUnavailable("Distance estimator unavailable", nil)
	ErrPlacesUnavailable    = ServiceUnavailable("Places lookup unavailable", nil)
)

// GetAppError attempts to convert an error to AppError
func GetAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("An unexpected error occurred", err)
}

// WithCause returns a copy of appErr carrying err as its cause.
func WithCause(appErr *AppError, err error) *AppError {
	if appErr == nil {
		return nil
	}
	return &AppError{
		Code:    appErr.Code,
		Message: appErr.Message,
		Status:  appErr.Status,
		Err:     err,
	}
}
