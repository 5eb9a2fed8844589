package rtprtcp

import (
	"fmt"
	"strings"
)

// BitstreamFormat identifies how a track's payload is carried over RTP.
type BitstreamFormat int

const (
	FormatUnknown BitstreamFormat = iota
	FormatH264RFC6184
	FormatVP8RFC7741
	FormatAACMPEG4Generic
	FormatOpusRFC7587
)

func (f BitstreamFormat) String() string {
	switch f {
	case FormatH264RFC6184:
		return "h264"
	case FormatVP8RFC7741:
		return "vp8"
	case FormatAACMPEG4Generic:
		return "aac"
	case FormatOpusRFC7587:
		return "opus"
	default:
		return "unknown"
	}
}

// ParseBitstreamFormat maps a configuration name to a BitstreamFormat.
func ParseBitstreamFormat(name string) (BitstreamFormat, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "h264", "h264_rtp_rfc_6184":
		return FormatH264RFC6184, nil
	case "vp8", "vp8_rtp_rfc_7741":
		return FormatVP8RFC7741, nil
	case "aac", "aac_mpeg4_generic":
		return FormatAACMPEG4Generic, nil
	case "opus", "opus_rtp_rfc_7587":
		return FormatOpusRFC7587, nil
	}
	return FormatUnknown, fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

// JitterBufferClass selects which jitter buffer a track is fed through.
type JitterBufferClass int

const (
	ClassNone JitterBufferClass = iota
	FrameReassembling
	MinimalPassthrough
)

func (c JitterBufferClass) String() string {
	switch c {
	case FrameReassembling:
		return "frame"
	case MinimalPassthrough:
		return "minimal"
	default:
		return "none"
	}
}

// JitterClass returns the jitter buffer class for the format, or ClassNone when
// the format cannot be received.
func (f BitstreamFormat) JitterClass() JitterBufferClass {
	switch f {
	case FormatH264RFC6184, FormatVP8RFC7741, FormatAACMPEG4Generic:
		return FrameReassembling
	case FormatOpusRFC7587:
		return MinimalPassthrough
	default:
		return ClassNone
	}
}

// Track describes an inbound media track. It is owned by the caller.
type Track struct {
	PayloadType uint8
	Format      BitstreamFormat
	// ClockRate is the timebase denominator of the track (e.g. 90000 for video).
	ClockRate uint32
}
