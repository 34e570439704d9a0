package models

import "net/http"

// ErrorKind classifies an ErrorResponse for callers that need more than the HTTP status.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation" // malformed or missing input
	KindNotFound   ErrorKind = "not_found"  // absent or owned by another tenant
	KindConflict   ErrorKind = "conflict"   // guarded transition precondition no longer holds
	KindDependency ErrorKind = "dependency" // external collaborator failed
	KindInternal   ErrorKind = "internal"
)

// ErrorResponse describes an error with a status code, kind and message.
type ErrorResponse struct {
	StatusCode int       `json:"-"`
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"reason"`
}

// NewErrorResponse creates a new error with a status code and message.
func NewErrorResponse(statusCode int, message string) *ErrorResponse {
	return &ErrorResponse{
		StatusCode: statusCode,
		Kind:       kindForStatus(statusCode),
		Message:    message}
}

// NewValidationError creates a 400 validation error.
func NewValidationError(message string) *ErrorResponse {
	return NewErrorResponse(http.StatusBadRequest, message)
}

// NewNotFoundError creates a 404 not-found error.
func NewNotFoundError(message string) *ErrorResponse {
	return NewErrorResponse(http.StatusNotFound, message)
}

// NewConflictError creates a 409 conflict error.
func NewConflictError(message string) *ErrorResponse {
	return NewErrorResponse(http.StatusConflict, message)
}

// NewDependencyError creates a 502 dependency error.
func NewDependencyError(message string) *ErrorResponse {
	return NewErrorResponse(http.StatusBadGateway, message)
}

func kindForStatus(statusCode int) ErrorKind {
	switch statusCode {
	case http.StatusBadRequest:
		return KindValidation
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	case http.StatusBadGateway:
		return KindDependency
	default:
		return KindInternal
	}
}

// Implementation of Error() to satisfy the error interface.
func (e *ErrorResponse) Error() string {
	return e.Message
}
