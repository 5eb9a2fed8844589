package main

import (
	"sync/atomic"

	"github.com/pion/rtp"

	"github.com/zsiec/rtpnode/internal/logger"
	"github.com/zsiec/rtpnode/internal/rtprtcp"
)

// loggingObserver is the default upper layer of the binary: it counts what
// the node delivers and logs it at debug level.
type loggingObserver struct {
	log      *logger.SampledLogger
	frames   atomic.Uint64
	packets  atomic.Uint64
	messages atomic.Uint64
}

func newLoggingObserver(base logger.Logger) *loggingObserver {
	return &loggingObserver{log: logger.NewPacketLogger(base.WithField("component", "observer"))}
}

func (o *loggingObserver) OnRTPFrameReceived(frame []*rtp.Packet) {
	if len(frame) == 0 {
		return
	}
	o.frames.Add(1)
	o.packets.Add(uint64(len(frame)))

	first := frame[0]
	size := 0
	for _, p := range frame {
		size += len(p.Payload)
	}
	o.log.DebugWithCategory(logger.CategoryPacketProcessing, "Frame received", map[string]interface{}{
		"ssrc":         first.SSRC,
		"payload_type": first.PayloadType,
		"timestamp":    first.Timestamp,
		"packets":      len(frame),
		"bytes":        size,
	})
}

func (o *loggingObserver) OnRTCPReceived(msg rtprtcp.Message) {
	o.messages.Add(1)

	fields := map[string]interface{}{"kind": msg.Kind.String()}
	if sr, ok := msg.SenderReport(); ok {
		fields["ssrc"] = sr.SSRC
		fields["packet_count"] = sr.PacketCount
	}
	o.log.DebugWithCategory(logger.CategoryPacketProcessing, "RTCP received", fields)
}
