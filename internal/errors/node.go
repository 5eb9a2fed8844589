package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/zsiec/rtpnode/internal/rtprtcp"
)

// FromNodeError maps an error returned by rtprtcp.Node to an AppError.
// Errors that are already AppErrors are returned unchanged.
func FromNodeError(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := GetAppError(err); ok {
		return appErr
	}

	switch {
	case stderrors.Is(err, rtprtcp.ErrNotStarted),
		stderrors.Is(err, rtprtcp.ErrNotReady):
		return Wrap(err, ErrorTypeServiceDown, "node is not running", http.StatusServiceUnavailable).
			WithCode("NODE_NOT_STARTED")
	case stderrors.Is(err, rtprtcp.ErrInvalidTransition):
		return Wrap(err, ErrorTypeConflict, "operation not allowed in current node state", http.StatusConflict).
			WithCode("INVALID_STATE")
	case stderrors.Is(err, rtprtcp.ErrUnknownSSRC):
		return Wrap(err, ErrorTypeNotFound, "source not found", http.StatusNotFound).
			WithCode("UNKNOWN_SSRC")
	case stderrors.Is(err, rtprtcp.ErrUnknownPayloadType):
		return Wrap(err, ErrorTypeNotFound, "payload type not registered", http.StatusNotFound).
			WithCode("UNKNOWN_PAYLOAD_TYPE")
	case stderrors.Is(err, rtprtcp.ErrInvalidArgument),
		stderrors.Is(err, rtprtcp.ErrUnsupportedFormat),
		stderrors.Is(err, rtprtcp.ErrPacketTooShort),
		stderrors.Is(err, rtprtcp.ErrNotRTPOrRTCP),
		stderrors.Is(err, rtprtcp.ErrInvalidRTPVersion),
		stderrors.Is(err, rtprtcp.ErrMalformedRTCP):
		return Wrap(err, ErrorTypeValidation, err.Error(), http.StatusBadRequest)
	case stderrors.Is(err, rtprtcp.ErrTransportUnavailable):
		return Wrap(err, ErrorTypeUpstream, "lower transport failed", http.StatusBadGateway).
			WithCode("TRANSPORT_FAILED")
	}
	return WrapInternalError(err, "An unexpected error occurred")
}
