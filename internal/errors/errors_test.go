package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/rtpnode/internal/rtprtcp"
)

func TestAppError_Error(t *testing.T) {
	err := New(ErrorTypeValidation, "bad ssrc", http.StatusBadRequest)
	assert.Equal(t, "VALIDATION_ERROR: bad ssrc", err.Error())

	cause := errors.New("socket closed")
	wrapped := Wrap(cause, ErrorTypeUpstream, "send failed", http.StatusBadGateway)
	assert.Equal(t, "UPSTREAM_ERROR: send failed (caused by: socket closed)", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestAppError_Builders(t *testing.T) {
	err := NewNotFoundError("source").
		WithCode("UNKNOWN_SSRC").
		WithDetails(map[string]interface{}{"ssrc": 42})

	assert.Equal(t, "source not found", err.Message)
	assert.Equal(t, http.StatusNotFound, err.HTTPStatus)
	assert.Equal(t, "UNKNOWN_SSRC", err.Code)
	assert.Equal(t, 42, err.Details["ssrc"])
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		err    *AppError
		typ    ErrorType
		status int
	}{
		{NewValidationError("x"), ErrorTypeValidation, http.StatusBadRequest},
		{NewNotFoundError("x"), ErrorTypeNotFound, http.StatusNotFound},
		{NewInternalError("x"), ErrorTypeInternal, http.StatusInternalServerError},
		{WrapInternalError(errors.New("x"), "y"), ErrorTypeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.err.Type)
			assert.Equal(t, tt.status, tt.err.HTTPStatus)
		})
	}
}

func TestGetAppError_Chain(t *testing.T) {
	appErr := NewValidationError("bad")
	wrapped := fmt.Errorf("handler: %w", appErr)

	got, ok := GetAppError(wrapped)
	require.True(t, ok)
	assert.Same(t, appErr, got)

	_, ok = GetAppError(errors.New("plain"))
	assert.False(t, ok)
	_, ok = GetAppError(nil)
	assert.False(t, ok)
}

func TestFromNodeError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		typ    ErrorType
		status int
		code   string
	}{
		{"not started", fmt.Errorf("%w: send fir", rtprtcp.ErrNotStarted), ErrorTypeServiceDown, http.StatusServiceUnavailable, "NODE_NOT_STARTED"},
		{"not ready", rtprtcp.ErrNotReady, ErrorTypeServiceDown, http.StatusServiceUnavailable, "NODE_NOT_STARTED"},
		{"invalid transition", rtprtcp.ErrInvalidTransition, ErrorTypeConflict, http.StatusConflict, "INVALID_STATE"},
		{"unknown ssrc", fmt.Errorf("%w: 0x1234", rtprtcp.ErrUnknownSSRC), ErrorTypeNotFound, http.StatusNotFound, "UNKNOWN_SSRC"},
		{"unknown payload type", rtprtcp.ErrUnknownPayloadType, ErrorTypeNotFound, http.StatusNotFound, "UNKNOWN_PAYLOAD_TYPE"},
		{"invalid argument", rtprtcp.ErrInvalidArgument, ErrorTypeValidation, http.StatusBadRequest, ""},
		{"malformed rtcp", rtprtcp.ErrMalformedRTCP, ErrorTypeValidation, http.StatusBadRequest, ""},
		{"transport", fmt.Errorf("%w: %w", rtprtcp.ErrTransportUnavailable, errors.New("closed")), ErrorTypeUpstream, http.StatusBadGateway, "TRANSPORT_FAILED"},
		{"other", errors.New("boom"), ErrorTypeInternal, http.StatusInternalServerError, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr := FromNodeError(tt.err)
			require.NotNil(t, appErr)
			assert.Equal(t, tt.typ, appErr.Type)
			assert.Equal(t, tt.status, appErr.HTTPStatus)
			assert.Equal(t, tt.code, appErr.Code)
			assert.ErrorIs(t, appErr, tt.err)
		})
	}

	assert.Nil(t, FromNodeError(nil))

	existing := NewValidationError("already mapped")
	assert.Same(t, existing, FromNodeError(existing))
}
