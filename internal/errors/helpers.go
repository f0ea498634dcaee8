package errors

import (
	"fmt"
	"net/http"
)

// NewMissingParameterError flags a caller-side contract violation on an
// ingress operation. Never retried.
func NewMissingParameterError(name string) *AppError {
	return New(ErrCodeMissingParameter, fmt.Sprintf("missing parameter: %s", name)).
		WithContext("parameter", name)
}

// NewMissingSelectorError flags a user lookup with no selector at all.
func NewMissingSelectorError() *AppError {
	return New(ErrCodeMissingParameter, "user lookup requires at least one selector")
}

// NewNotFoundError flags a lookup that found no valid row.
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier)
}

// NewStorageError wraps a store failure. The operation must be treated as
// not having happened.
func NewStorageError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("storage %s failed", operation)).
		WithContext("operation", operation)
}

// NewGatewayTransportError wraps a network-level failure talking to the push
// gateway; the affected message is abandoned for the cycle.
func NewGatewayTransportError(err error) *AppError {
	return WrapRetryable(err, ErrCodeGatewayTransport, "gateway request failed")
}

// HTTPStatusCode maps error codes to HTTP status codes for the ingress layer.
func HTTPStatusCode(err error) int {
	switch GetCode(err) {
	case ErrCodeMissingParameter, ErrCodeInvalidInput, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeDatabaseQuery, ErrCodeDatabaseMigration:
		return http.StatusServiceUnavailable
	case ErrCodeGatewayTransport, ErrCodeGatewayOverload:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the standardized ingress error body.
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode `json:"code"`
		Message string    `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response body.
// Internal detail (wrapped causes, context) stays out of the response.
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{RequestID: requestID}

	if appErr, ok := err.(*AppError); ok {
		response.Error.Code = appErr.Code
		response.Error.Message = appErr.Message
	} else {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = "internal error"
	}

	return response
}
