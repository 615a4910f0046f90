package errors

import (
	"fmt"
)

// NewValidationError creates a validation error with field context.
// Validation failures are contract violations: they propagate immediately
// and are never routed to the dead-letter store.
func NewValidationError(field, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field)
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation)
}

// NewProviderError creates an error for a mail-provider API call.
// 5xx, 429 and 408 responses are transient and marked retryable.
func NewProviderError(endpoint string, statusCode int, err error) *AppError {
	appErr := Wrap(err, ErrCodeMailProviderAPI, "mail provider API call failed").
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode)

	if statusCode >= 500 || statusCode == 429 || statusCode == 408 {
		appErr.Retryable = true
	}
	return appErr
}

// NewSendError creates an error for a failed outbound send.
func NewSendError(to string, statusCode int, err error) *AppError {
	appErr := Wrap(err, ErrCodeMailSend, "outbound send failed").
		WithContext("to", to).
		WithContext("status_code", statusCode)

	if statusCode >= 500 || statusCode == 429 || statusCode == 408 {
		appErr.Retryable = true
	}
	return appErr
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier)
}

// HTTPStatusCode maps error codes to HTTP status codes for handler
// responses.
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeInvalidConfig:
		return 400
	case ErrCodeAuthentication:
		return 401
	case ErrCodeNotFound:
		return 404
	case ErrCodeTimeout:
		return 408
	case ErrCodeRateLimit:
		return 429
	case ErrCodeMailProviderAPI, ErrCodeMailSend:
		if IsRetryable(err) {
			return 502
		}
		return 500
	case ErrCodeDatabaseConnection, ErrCodeDatabaseQuery:
		return 503
	default:
		return 500
	}
}
