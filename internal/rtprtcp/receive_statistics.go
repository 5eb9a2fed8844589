package rtprtcp

import (
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// maxTotalLost is the largest value the 24-bit cumulative loss field can carry.
const maxTotalLost = 0x7fffff

// SourceStats is a point-in-time view of one inbound source.
type SourceStats struct {
	SSRC             uint32    `json:"ssrc"`
	PayloadType      uint8     `json:"payload_type"`
	ClockRate        uint32    `json:"clock_rate"`
	PacketsReceived  uint64    `json:"packets_received"`
	BytesReceived    uint64    `json:"bytes_received"`
	PacketsLost      int64     `json:"packets_lost"`
	Duplicates       uint64    `json:"duplicates"`
	Reordered        uint64    `json:"reordered"`
	SequenceResets   uint64    `json:"sequence_resets"`
	ExtendedHighest  uint32    `json:"extended_highest_seq"`
	Jitter           float64   `json:"jitter"`
	SenderReports    uint64    `json:"sender_reports"`
	ReportBlocks     uint64    `json:"report_blocks"`
	FIRRequestsSent  uint32    `json:"fir_requests_sent"`
	FirstPacketAt    time.Time `json:"first_packet_at"`
	LastPacketAt     time.Time `json:"last_packet_at"`
	LastSenderReport time.Time `json:"last_sender_report_at,omitempty"`
}

// ReceiveStatistics accumulates reception state for one inbound SSRC and builds
// the report blocks and FIR sequence numbers addressed to it.
type ReceiveStatistics struct {
	mu sync.Mutex

	ssrc         uint32
	receiverSSRC uint32
	payloadType  uint8
	clockRate    uint32
	clock        Clock

	seq sequenceTracker

	bytesReceived uint64
	firstPacketAt time.Time
	lastPacketAt  time.Time

	// RFC 3550 A.8 interarrival jitter, in RTP timestamp units
	jitter         float64
	lastTransit    int64
	transitSamples uint64

	// interval state for fraction lost (RFC 3550 A.3)
	expectedPrior uint64
	receivedPrior uint64

	lastReportBlockAt time.Time
	reportBlocks      uint64

	// last received sender report
	lastSRNTP     uint64
	lastSRArrival time.Time
	senderReports uint64

	firRequests uint32
}

// NewReceiveStatistics creates the statistics entry for a source first seen with
// the given payload type. receiverSSRC is the local SSRC used when reporting on it.
func NewReceiveStatistics(payloadType uint8, ssrc, receiverSSRC, clockRate uint32, clock Clock) *ReceiveStatistics {
	if clock == nil {
		clock = defaultClock
	}
	return &ReceiveStatistics{
		ssrc:              ssrc,
		receiverSSRC:      receiverSSRC,
		payloadType:       payloadType,
		clockRate:         clockRate,
		clock:             clock,
		lastReportBlockAt: clock.Now(),
	}
}

// Record accounts for a received RTP packet.
func (s *ReceiveStatistics) Record(packet *rtp.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if s.firstPacketAt.IsZero() {
		s.firstPacketAt = now
	}
	s.lastPacketAt = now
	s.bytesReceived += uint64(len(packet.Payload))

	resets := s.seq.resets
	s.seq.process(packet.SequenceNumber)
	if s.seq.resets != resets {
		// A restarted sequence space starts a fresh loss interval, and its
		// timestamps share nothing with the previous transit samples.
		s.expectedPrior = 0
		s.receivedPrior = 0
		s.transitSamples = 0
	}
	s.updateJitter(now, packet.Timestamp)
}

// updateJitter applies RFC 3550 A.8. Arrival time, relative to the first packet,
// is converted to RTP clock units; int32 arithmetic keeps the transit difference
// wraparound safe.
func (s *ReceiveStatistics) updateJitter(arrival time.Time, timestamp uint32) {
	if s.clockRate == 0 {
		return
	}
	elapsed := arrival.Sub(s.firstPacketAt)
	rate := int64(s.clockRate)
	arrivalRTP := int64(elapsed/time.Second)*rate + int64(elapsed%time.Second)*rate/int64(time.Second)
	transit := int64(int32(arrivalRTP) - int32(timestamp))

	if s.transitSamples > 0 {
		d := int64(int32(transit - s.lastTransit))
		if d < 0 {
			d = -d
		}
		s.jitter += (float64(d) - s.jitter) / 16.0
	}
	s.lastTransit = transit
	s.transitSamples++
}

// ReportIntervalElapsed reports whether interval has passed since the last report
// block was built (or since the entry was created).
func (s *ReceiveStatistics) ReportIntervalElapsed(interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Now().Sub(s.lastReportBlockAt) > interval
}

// BuildReportBlock builds a reception report for the source and starts a new
// reporting interval.
func (s *ReceiveStatistics) BuildReportBlock() rtcp.ReceptionReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buildReportBlockLocked(s.clock.Now())
}

// ReportBlockIfDue builds a report block only when interval has passed since the
// last one. The check and the interval reset happen under one lock, so callers
// racing on the same source get at most one block per interval.
func (s *ReceiveStatistics) ReportBlockIfDue(interval time.Duration) (rtcp.ReceptionReport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if now.Sub(s.lastReportBlockAt) <= interval {
		return rtcp.ReceptionReport{}, false
	}
	return s.buildReportBlockLocked(now), true
}

func (s *ReceiveStatistics) buildReportBlockLocked(now time.Time) rtcp.ReceptionReport {
	expected := s.seq.expected()
	received := s.seq.received

	expectedInterval := expected - s.expectedPrior
	receivedInterval := received - s.receivedPrior
	s.expectedPrior = expected
	s.receivedPrior = received

	var fraction uint8
	if expectedInterval > 0 && expectedInterval > receivedInterval {
		lostInterval := expectedInterval - receivedInterval
		f := (lostInterval << 8) / expectedInterval
		if f > 255 {
			f = 255
		}
		fraction = uint8(f)
	}

	lost := s.seq.lost()
	switch {
	case lost < 0:
		lost = 0
	case lost > maxTotalLost:
		lost = maxTotalLost
	}

	var lsr, dlsr uint32
	if !s.lastSRArrival.IsZero() {
		lsr = uint32(s.lastSRNTP >> 16)
		delay := now.Sub(s.lastSRArrival)
		dlsr = uint32(delay * 65536 / time.Second)
	}

	s.lastReportBlockAt = now
	s.reportBlocks++

	return rtcp.ReceptionReport{
		SSRC:               s.ssrc,
		FractionLost:       fraction,
		TotalLost:          uint32(lost),
		LastSequenceNumber: s.seq.extendedHighest(),
		Jitter:             uint32(s.jitter),
		LastSenderReport:   lsr,
		Delay:              dlsr,
	}
}

// RecordSenderReport keeps the timing of a sender report from the source so the
// next report block can carry LSR and DLSR.
func (s *ReceiveStatistics) RecordSenderReport(sr *rtcp.SenderReport) {
	if sr == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSRNTP = sr.NTPTime
	s.lastSRArrival = s.clock.Now()
	s.senderReports++
}

// SSRC returns the media source this entry describes.
func (s *ReceiveStatistics) SSRC() uint32 { return s.ssrc }

// ReceiverSSRC returns the local SSRC used to report on this source.
func (s *ReceiveStatistics) ReceiverSSRC() uint32 { return s.receiverSSRC }

// PayloadType returns the payload type the source was first seen with.
func (s *ReceiveStatistics) PayloadType() uint8 { return s.payloadType }

// FIRRequestsSent returns how many FIRs were sent to the source.
func (s *ReceiveStatistics) FIRRequestsSent() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firRequests
}

// NextFIRSequence returns the sequence number for the next FIR and counts the
// request.
func (s *ReceiveStatistics) NextFIRSequence() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := uint8(s.firRequests % 256)
	s.firRequests++
	return seq
}

// Snapshot returns a copy of the counters.
func (s *ReceiveStatistics) Snapshot() SourceStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SourceStats{
		SSRC:             s.ssrc,
		PayloadType:      s.payloadType,
		ClockRate:        s.clockRate,
		PacketsReceived:  s.seq.received,
		BytesReceived:    s.bytesReceived,
		PacketsLost:      s.seq.lost(),
		Duplicates:       s.seq.duplicates,
		Reordered:        s.seq.reordered,
		SequenceResets:   s.seq.resets,
		ExtendedHighest:  s.seq.extendedHighest(),
		Jitter:           s.jitter,
		SenderReports:    s.senderReports,
		ReportBlocks:     s.reportBlocks,
		FIRRequestsSent:  s.firRequests,
		FirstPacketAt:    s.firstPacketAt,
		LastPacketAt:     s.lastPacketAt,
		LastSenderReport: s.lastSRArrival,
	}
}
