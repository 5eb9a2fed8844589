package rtprtcp

import "errors"

var (
	// Lifecycle errors
	ErrNotReady          = errors.New("node is not in ready state")
	ErrNotStarted        = errors.New("node has not started")
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// Input errors
	ErrPacketTooShort    = errors.New("packet too short")
	ErrNotRTPOrRTCP      = errors.New("not an RTP or RTCP packet")
	ErrInvalidRTPVersion = errors.New("invalid RTP version")
	ErrMalformedRTCP     = errors.New("malformed RTCP compound packet")
	ErrInvalidArgument   = errors.New("invalid argument")

	// Routing errors
	ErrUnknownPayloadType = errors.New("no track registered for payload type")
	ErrNoJitterBuffer     = errors.New("no jitter buffer registered for payload type")
	ErrUnknownSSRC        = errors.New("no packets received from ssrc")
	ErrUnsupportedFormat  = errors.New("unsupported bitstream format")

	// Transport errors
	ErrTransportUnavailable = errors.New("lower transport unavailable")
)
