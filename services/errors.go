package services

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeUnavailable  ErrorType = "unavailable"
)

// ErrorCode narrows an ErrorType down to the exact failure kind surfaced to clients.
type ErrorCode string

const (
	CodeMalformedToken      ErrorCode = "malformed_token"
	CodeExpiredToken        ErrorCode = "expired_token"
	CodeSignatureInvalid    ErrorCode = "signature_invalid"
	CodeInvalidIssuer       ErrorCode = "invalid_issuer"
	CodeInvalidAudience     ErrorCode = "invalid_audience"
	CodeProviderUnavailable ErrorCode = "provider_unavailable"
	CodeOwnerIDMissing      ErrorCode = "owner_id_missing"
	CodeRoleInvalid         ErrorCode = "role_invalid"
	CodeUnauthorized        ErrorCode = "unauthorized"
	CodeForbidden           ErrorCode = "forbidden"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Code    ErrorCode
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is. A target carrying a Code only matches that exact code;
// otherwise errors of the same Type match.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	if t.Code != "" {
		return e.Code == t.Code
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Wrap returns a copy of e carrying cause. Package-level sentinels are never mutated.
func (e *DomainError) Wrap(cause error) *DomainError {
	return &DomainError{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Err:     cause,
		Details: make(map[string]interface{}),
	}
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// NewCodedError creates a domain error with a specific client-facing code
func NewCodedError(errType ErrorType, code ErrorCode, message string) *DomainError {
	e := NewDomainError(errType, message, nil)
	e.Code = code
	return e
}

// Domain error variables

var (
	// Token verification errors
	ErrMalformedToken   = NewCodedError(ErrorTypeUnauthorized, CodeMalformedToken, "malformed authentication token")
	ErrExpiredToken     = NewCodedError(ErrorTypeUnauthorized, CodeExpiredToken, "authentication token expired")
	ErrSignatureInvalid = NewCodedError(ErrorTypeUnauthorized, CodeSignatureInvalid, "invalid token signature")
	ErrInvalidIssuer    = NewCodedError(ErrorTypeUnauthorized, CodeInvalidIssuer, "invalid token issuer")
	ErrInvalidAudience  = NewCodedError(ErrorTypeUnauthorized, CodeInvalidAudience, "invalid token audience")
	ErrUnauthorized     = NewCodedError(ErrorTypeUnauthorized, CodeUnauthorized, "authentication required")

	// Identity provider errors
	ErrProviderUnavailable = NewCodedError(ErrorTypeUnavailable, CodeProviderUnavailable, "identity provider unavailable")

	// Principal errors
	ErrOwnerIDMissing = NewCodedError(ErrorTypeValidation, CodeOwnerIDMissing, "token does not identify a user")
	ErrRoleInvalid    = NewCodedError(ErrorTypeValidation, CodeRoleInvalid, "invalid role")
	ErrUserNotFound   = NewDomainError(ErrorTypeNotFound, "user not found", nil)
	ErrInvalidInput   = NewDomainError(ErrorTypeValidation, "invalid input", nil)
	ErrSelfDeactivate = NewDomainError(ErrorTypeValidation, "you cannot deactivate your own account", nil)

	// Permission errors
	ErrForbidden               = NewCodedError(ErrorTypeForbidden, CodeForbidden, "access forbidden")
	ErrInsufficientPermissions = NewCodedError(ErrorTypeForbidden, CodeForbidden, "insufficient permissions")
	ErrRoleImmutable           = NewCodedError(ErrorTypeForbidden, CodeForbidden, "you cannot change your role after registration")
	ErrAccountInactive         = NewCodedError(ErrorTypeForbidden, CodeForbidden, "account is deactivated")

	// Conflict errors
	ErrDuplicateEmail = NewDomainError(ErrorTypeConflict, "email already belongs to another account", nil)
	ErrDuplicateUID   = NewDomainError(ErrorTypeConflict, "subject id already belongs to another account", nil)

	// Internal errors
	ErrDatabaseError = NewDomainError(ErrorTypeInternal, "database error", nil)
)

// Error type checking helper functions

func hasType(err error, errType ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == errType
	}
	return false
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool { return hasType(err, ErrorTypeNotFound) }

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool { return hasType(err, ErrorTypeValidation) }

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool { return hasType(err, ErrorTypeUnauthorized) }

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool { return hasType(err, ErrorTypeForbidden) }

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool { return hasType(err, ErrorTypeConflict) }

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool { return hasType(err, ErrorTypeInternal) }

// IsUnavailableError checks if an error means a dependency could not be reached
func IsUnavailableError(err error) bool { return hasType(err, ErrorTypeUnavailable) }

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorCode returns the ErrorCode of a domain error, or empty string if it carries none
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// GetErrorMessage returns the client-safe message of a domain error
func GetErrorMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return err.Error()
}

// HTTPStatus maps err to the status written to clients. Anything that is not a
// domain error is a 500.
func HTTPStatus(err error) int {
	switch GetErrorType(err) {
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeUnauthorized:
		return http.StatusUnauthorized
	case ErrorTypeForbidden:
		return http.StatusForbidden
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
