package errors

import (
	"fmt"
	"net/http"
)

// NewValidationError creates a validation error with field context
func NewValidationError(field, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewAPIError creates an error for a VoIP.ms API call that returned an HTTP
// error status. 5xx, 429 and 408 are retryable.
func NewAPIError(method string, statusCode int, err error) *AppError {
	appErr := Wrap(err, ErrCodeVoipMSAPI, "voip.ms API call failed").
		WithContext("method", method).
		WithContext("status_code", statusCode).
		WithUserMessage("VoIP.ms API request failed")

	if statusCode >= 500 || statusCode == http.StatusTooManyRequests || statusCode == http.StatusRequestTimeout {
		appErr.Retryable = true
	}

	return appErr
}

// NewAPIStatusError creates an error for a VoIP.ms response whose status
// field was not success.
func NewAPIStatusError(method, status string) *AppError {
	return New(ErrCodeVoipMSAPI, fmt.Sprintf("voip.ms API returned status %q", status)).
		WithContext("method", method).
		WithContext("status", status).
		WithUserMessage(fmt.Sprintf("VoIP.ms API error: %s", status))
}

// NewTransportError creates a retryable error for network level failures
func NewTransportError(method string, err error) *AppError {
	return WrapRetryable(err, ErrCodeTransport, "voip.ms API request failed").
		WithContext("method", method).
		WithUserMessage("Could not reach VoIP.ms")
}

// NewAuthError creates an authentication error
func NewAuthError(reason string) *AppError {
	return New(ErrCodeAuthentication, "authentication failed").
		WithContext("reason", reason).
		WithUserMessage("VoIP.ms credentials were rejected")
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// NewConflictError reports an operation that does not apply to the
// resource's current state
func NewConflictError(resource, message string) *AppError {
	return New(ErrCodeConflict, message).
		WithContext("resource", resource).
		WithUserMessage(message)
}

// HTTP helpers

// HTTPStatusCode maps error codes to appropriate HTTP status codes
func HTTPStatusCode(err error) int {
	code := GetCode(err)

	switch code {
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeInvalidConfig:
		return http.StatusBadRequest
	case ErrCodeAuthentication:
		return http.StatusUnauthorized
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeConflict:
		return http.StatusConflict
	case ErrCodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrCodeRateLimit:
		return http.StatusTooManyRequests
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeVoipMSAPI, ErrCodeTransport:
		return http.StatusBadGateway
	case ErrCodeDatabaseConnection, ErrCodeDatabaseQuery, ErrCodeDatabaseMigration:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPErrorResponse is the standardized HTTP error body
type HTTPErrorResponse struct {
	Error struct {
		Code    ErrorCode   `json:"code"`
		Message string      `json:"message"`
		Context interface{} `json:"context,omitempty"`
	} `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ToHTTPResponse converts an error to a standardized HTTP response
func ToHTTPResponse(err error, requestID string) HTTPErrorResponse {
	response := HTTPErrorResponse{
		RequestID: requestID,
	}

	appErr, ok := As(err)
	if !ok {
		response.Error.Code = ErrCodeInternalError
		response.Error.Message = GetUserMessage(err)
		return response
	}

	response.Error.Code = appErr.Code
	response.Error.Message = GetUserMessage(err)
	if len(appErr.Context) > 0 {
		publicContext := make(map[string]interface{})
		for k, v := range appErr.Context {
			if k != "password" && k != "username" && k != "text" {
				publicContext[k] = v
			}
		}
		if len(publicContext) > 0 {
			response.Error.Context = publicContext
		}
	}

	return response
}
