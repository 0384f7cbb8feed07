package errors

import (
	"errors"
	"fmt"
)

// Error types for different domains
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeBusiness   ErrorType = "business"
	ErrorTypeInternal   ErrorType = "internal"
	ErrorTypeExternal   ErrorType = "external"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeInvariant  ErrorType = "invariant"
	ErrorTypeCompliance ErrorType = "compliance"
)

// AppError represents a structured application error.
//
// Business-meaningful compliance findings (violations) are never modelled as
// errors; they travel inside validation results. AppError covers the rest:
// malformed input, collaborator failures and invariant breaches.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// Error constructors
func NewValidationError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 400,
	}
}

func NewBusinessError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeBusiness,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 422,
	}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       "RESOURCE_NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		Retryable:  false,
		StatusCode: 404,
	}
}

func NewConflictError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeConflict,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 409,
	}
}

func NewInternalError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Code:       "INTERNAL_ERROR",
		Message:    message,
		Retryable:  true,
		StatusCode: 500,
	}
}

// NewExternalError marks a collaborator (repository, resolver) failure. It is
// retryable and must never be folded into a "no coverage" business outcome.
func NewExternalError(service, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeExternal,
		Code:       "EXTERNAL_SERVICE_ERROR",
		Message:    fmt.Sprintf("%s service error: %s", service, message),
		Retryable:  true,
		StatusCode: 502,
		Details:    map[string]interface{}{"service": service},
	}
}

// NewInvariantError marks a usage error such as transitioning a transaction
// from a state the transition is not defined for.
func NewInvariantError(code, message string) *AppError {
	return &AppError{
		Type:       ErrorTypeInvariant,
		Code:       code,
		Message:    message,
		Retryable:  false,
		StatusCode: 409,
	}
}

// NewInvalidEnumError reports a request field whose value is outside the
// closed set accepted at the decode boundary.
func NewInvalidEnumError(field, value string) *AppError {
	return &AppError{
		Type:       ErrorTypeValidation,
		Code:       "INVALID_ENUM_VALUE",
		Message:    fmt.Sprintf("invalid value %q for field %s", value, field),
		Retryable:  false,
		StatusCode: 400,
		Details:    map[string]interface{}{"field": field, "value": value},
	}
}

// Predefined common errors
var (
	ErrInvalidInput         = NewValidationError("INVALID_INPUT", "Invalid input provided")
	ErrTransactionNotFound  = NewNotFoundError("transaction")
	ErrLicenceNotFound      = NewNotFoundError("licence")
	ErrCustomerNotFound     = NewNotFoundError("customer")
	ErrAlreadyResolved      = NewConflictError("ALREADY_RESOLVED", "Override has already been resolved")
	ErrNotOverridable       = NewInvariantError("NOT_OVERRIDABLE", "Transaction is not awaiting an override decision")
	ErrMissingJustification = NewValidationError("MISSING_JUSTIFICATION", "Override approval requires a justification")
	ErrForbiddenActor       = NewInvariantError("FORBIDDEN_ACTOR", "Actor is not permitted to resolve overrides")
)

// Wrap wraps an error with a message using fmt.Errorf with %w
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// HasCode reports whether err carries the given application error code.
func HasCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// GetStatusCode extracts HTTP status code from error
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 500
}
