package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Reason  string    `json:"reason"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error code to a response status.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal
	ErrConflict
	ErrConfiguration
)

// Machine readable reasons returned to webhook senders.
const (
	ReasonMissingSignature = "MISSING_SIGNATURE"
	ReasonInvalidSignature = "INVALID_SIGNATURE"
	ReasonConfiguration    = "CONFIGURATION_ERROR"
	ReasonMissingTenant    = "MISSING_TENANT"
	ReasonTenantMismatch   = "TENANT_MISMATCH"
	ReasonValidation       = "VALIDATION_ERROR"
	ReasonNotFound         = "NOT_FOUND"
	ReasonMappingConflict  = "MAPPING_CONFLICT"
	ReasonInternal         = "INTERNAL_ERROR"
	ReasonUnauthorized     = "UNAUTHORIZED"
	ReasonInvalidToken     = "INVALID_TOKEN"
	ReasonRateLimited      = "RATE_LIMITED"
	ReasonPayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	ReasonTimeout          = "TIMEOUT"
)

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Reason:  ReasonNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Reason:  ReasonValidation,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Reason:  ReasonInternal,
		Message: "internal server error",
		Err:     err,
	}
}

// Common errors
func NotFound(resource string, err error) *AppError {
	return NewNotFound(resource, err)
}

func BadRequest(message string, err error) *AppError {
	return NewBadRequest(message, err)
}

func Internal(err error) *AppError {
	return NewInternal(err)
}

func Unauthorized(reason, message string, err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Reason:  reason,
		Message: message,
		Err:     err,
	}
}

func Forbidden(reason, message string) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Reason:  reason,
		Message: message,
	}
}

func Conflict(reason, message string, err error) *AppError {
	return &AppError{
		Code:    ErrConflict,
		Reason:  reason,
		Message: message,
		Err:     err,
	}
}

// Configuration reports a server-side misconfiguration, distinct from a client failure.
func Configuration(message string) *AppError {
	return &AppError{
		Code:    ErrConfiguration,
		Reason:  ReasonConfiguration,
		Message: message,
	}
}

// As returns the AppError in err's chain, if any.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// Is reports whether err carries the given code.
func Is(err error, code ErrorCode) bool {
	appErr, ok := As(err)
	return ok && appErr.Code == code
}
