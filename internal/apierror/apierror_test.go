package apierror

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAPIError_Error(t *testing.T) {
	err := NewAPIError(ErrInsufficientBalance, "payout exceeds available balance", nil)
	assert.Equal(t, "INSUFFICIENT_BALANCE: payout exceeds available balance", err.Error())
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, ErrInvalidTransition, CodeOf(NewAPIError(ErrInvalidTransition, "terminal state", nil)))
	assert.Equal(t, ErrInternalServer, CodeOf(errors.New("plain error")))
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		code   ErrorCode
		status int
	}{
		{ErrNotFound, http.StatusNotFound},
		{ErrConflict, http.StatusConflict},
		{ErrInvalidInput, http.StatusBadRequest},
		{ErrInvalidKind, http.StatusBadRequest},
		{ErrInvalidTransition, http.StatusBadRequest},
		{ErrMalformedWebhook, http.StatusBadRequest},
		{ErrInsufficientBalance, http.StatusUnprocessableEntity},
		{ErrUnauthorizedSource, http.StatusForbidden},
		{ErrInvalidSignature, http.StatusUnauthorized},
		{ErrInternalServer, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, MapErrorToHTTPStatus(NewAPIError(tt.code, "msg", nil)), string(tt.code))
	}

	assert.Equal(t, http.StatusInternalServerError, MapErrorToHTTPStatus(errors.New("unknown")))
}
