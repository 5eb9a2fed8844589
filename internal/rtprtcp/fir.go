package rtprtcp

import "github.com/pion/rtcp"

// BuildFIR builds a Full Intra Request (RFC 5104 section 4.3.1) asking mediaSSRC
// for a key frame. Each call takes the next command sequence number from the
// statistics entry, wrapping at 256. The media source field of the feedback header
// is zero for FIR.
func BuildFIR(stats *ReceiveStatistics, mediaSSRC uint32) *rtcp.FullIntraRequest {
	return &rtcp.FullIntraRequest{
		SenderSSRC: stats.ReceiverSSRC(),
		MediaSSRC:  0,
		FIR: []rtcp.FIREntry{
			{
				SSRC:           mediaSSRC,
				SequenceNumber: stats.NextFIRSequence(),
			},
		},
	}
}
