package rtprtcp

// RTCPHeaderSize is the size of the common RTCP header and the smallest datagram
// that can be either RTP or RTCP.
const RTCPHeaderSize = 4

// Classification is the result of demultiplexing a datagram by its first bytes.
type Classification int

const (
	ClassUnknown Classification = iota
	ClassRTP
	ClassRTCP
)

func (c Classification) String() string {
	switch c {
	case ClassRTP:
		return "rtp"
	case ClassRTCP:
		return "rtcp"
	default:
		return "unknown"
	}
}

// Classify demultiplexes a datagram per RFC 7983 and RFC 5761 section 4.
//
//	[0..3]     STUN
//	[16..19]   ZRTP
//	[20..63]   DTLS
//	[64..79]   TURN Channel
//	[128..191] RTP/RTCP, where a second byte in [192..223] is RTCP
//
// Only the RTP/RTCP band is recognised here; everything else is ClassUnknown and
// left to the surrounding transport.
func Classify(data []byte) Classification {
	if len(data) < RTCPHeaderSize {
		return ClassUnknown
	}

	first := data[0]
	if first < 128 || first > 191 {
		return ClassUnknown
	}

	if pt := data[1]; pt >= 192 && pt <= 223 {
		return ClassRTCP
	}
	return ClassRTP
}
