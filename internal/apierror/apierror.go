package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

type ErrorCode string

const (
	ErrNotFound            ErrorCode = "NOT_FOUND"
	ErrConflict            ErrorCode = "CONFLICT"
	ErrBadRequest          ErrorCode = "BAD_REQUEST"
	ErrInvalidInput        ErrorCode = "INVALID_INPUT"
	ErrInvalidKind         ErrorCode = "INVALID_KIND"
	ErrInvalidTransition   ErrorCode = "INVALID_TRANSITION"
	ErrInsufficientBalance ErrorCode = "INSUFFICIENT_BALANCE"
	ErrUnauthorizedSource  ErrorCode = "UNAUTHORIZED_SOURCE"
	ErrInvalidSignature    ErrorCode = "INVALID_SIGNATURE"
	ErrMalformedWebhook    ErrorCode = "MALFORMED_WEBHOOK"
	ErrInternalServer      ErrorCode = "INTERNAL_SERVER_ERROR"
)

type APIError struct {
	Code    ErrorCode   `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewAPIError(code ErrorCode, message string, details interface{}) APIError {
	logrus.Error(details)
	return APIError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// CodeOf extracts the error code from err, or INTERNAL_SERVER_ERROR when err
// is not an APIError.
func CodeOf(err error) ErrorCode {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ErrInternalServer
}

func MapErrorToHTTPStatus(err error) int {
	var apiErr APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case ErrNotFound:
			return http.StatusNotFound
		case ErrConflict:
			return http.StatusConflict
		case ErrInvalidInput, ErrBadRequest, ErrInvalidKind, ErrInvalidTransition, ErrMalformedWebhook:
			return http.StatusBadRequest
		case ErrInsufficientBalance:
			return http.StatusUnprocessableEntity
		case ErrUnauthorizedSource:
			return http.StatusForbidden
		case ErrInvalidSignature:
			return http.StatusUnauthorized
		case ErrInternalServer:
			return http.StatusInternalServerError
		default:
			return http.StatusInternalServerError
		}
	}
	return http.StatusInternalServerError
}
