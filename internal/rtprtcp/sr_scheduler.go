package rtprtcp

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// Sender report cadence: twice a second for the first 10 seconds so a player can
// achieve A/V sync quickly, then roughly once every 5 seconds.
const (
	fastSyncPeriod   = 10000 * time.Millisecond
	fastSyncInterval = 500 * time.Millisecond
	coastInterval    = 4999 * time.Millisecond
)

// ntpEpochOffset is the number of seconds between 1900-01-01 and 1970-01-01.
const ntpEpochOffset = 2208988800

// NTPMode selects what the NTP timestamp of a sender report carries.
type NTPMode int

const (
	// NTPModeMediaClock derives the timestamp from the RTP timestamp of the
	// triggering packet divided by the codec clock rate.
	NTPModeMediaClock NTPMode = iota
	// NTPModeWallClock uses the wall clock at the moment the report is built.
	NTPModeWallClock
)

func (m NTPMode) String() string {
	if m == NTPModeWallClock {
		return "wall_clock"
	}
	return "media_clock"
}

// ParseNTPMode maps a configuration name to an NTPMode. The empty string
// selects the media clock.
func ParseNTPMode(name string) (NTPMode, error) {
	switch name {
	case "", "media_clock":
		return NTPModeMediaClock, nil
	case "wall_clock":
		return NTPModeWallClock, nil
	}
	return NTPModeMediaClock, fmt.Errorf("%w: ntp mode %q", ErrInvalidArgument, name)
}

// SenderReportStats is a point-in-time view of a scheduler.
type SenderReportStats struct {
	PayloadType    uint8     `json:"payload_type"`
	SSRC           uint32    `json:"ssrc"`
	ClockRate      uint32    `json:"clock_rate"`
	PacketCount    uint32    `json:"packet_count"`
	OctetCount     uint32    `json:"octet_count"`
	ReportsEmitted uint64    `json:"reports_emitted"`
	CreatedAt      time.Time `json:"created_at"`
	LastReportAt   time.Time `json:"last_report_at"`
}

// SenderReportScheduler counts outbound RTP for one payload type and decides when
// a sender report is due.
type SenderReportScheduler struct {
	mu sync.Mutex

	ssrc      uint32
	clockRate uint32
	ntpMode   NTPMode
	clock     Clock

	createdAt    time.Time
	lastReportAt time.Time

	packetCount    uint32
	octetCount     uint32
	reportsEmitted uint64

	pending *rtcp.SenderReport
}

// NewSenderReportScheduler creates a scheduler for the given sender SSRC and codec
// clock rate. A nil clock uses the system clock.
func NewSenderReportScheduler(ssrc, clockRate uint32, mode NTPMode, clock Clock) *SenderReportScheduler {
	if clock == nil {
		clock = defaultClock
	}
	now := clock.Now()
	return &SenderReportScheduler{
		ssrc:         ssrc,
		clockRate:    clockRate,
		ntpMode:      mode,
		clock:        clock,
		createdAt:    now,
		lastReportAt: now,
	}
}

// Observe accounts for an outbound packet and builds a sender report when one is due.
func (s *SenderReportScheduler) Observe(packet *rtp.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.packetCount++
	s.octetCount += uint32(len(packet.Payload))

	now := s.clock.Now()
	sinceCreated := now.Sub(s.createdAt)
	sinceReport := now.Sub(s.lastReportAt)

	if !((sinceCreated < fastSyncPeriod && sinceReport > fastSyncInterval) || sinceReport > coastInterval) {
		return
	}

	var msw, lsw uint32
	switch s.ntpMode {
	case NTPModeWallClock:
		msw, lsw = wallClockNTP(now)
	default:
		msw, lsw = mediaClockNTP(packet.Timestamp, s.clockRate)
	}

	s.pending = &rtcp.SenderReport{
		SSRC:        s.ssrc,
		NTPTime:     uint64(msw)<<32 | uint64(lsw),
		RTPTime:     packet.Timestamp,
		PacketCount: s.packetCount,
		OctetCount:  s.octetCount,
	}

	s.packetCount = 0
	s.octetCount = 0
	s.lastReportAt = now
	s.reportsEmitted++
}

// HasPendingReport reports whether a built report is waiting to be taken.
func (s *SenderReportScheduler) HasPendingReport() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// TakePendingReport hands over the pending report, or nil when none is pending.
func (s *SenderReportScheduler) TakePendingReport() *rtcp.SenderReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr := s.pending
	s.pending = nil
	return sr
}

// Stats returns a copy of the scheduler counters.
func (s *SenderReportScheduler) Stats() SenderReportStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SenderReportStats{
		SSRC:           s.ssrc,
		ClockRate:      s.clockRate,
		PacketCount:    s.packetCount,
		OctetCount:     s.octetCount,
		ReportsEmitted: s.reportsEmitted,
		CreatedAt:      s.createdAt,
		LastReportAt:   s.lastReportAt,
	}
}

// mediaClockNTP expresses rtpTimestamp/clockRate seconds as a 32.32 fixed point
// pair. The fraction is scaled through milliseconds before conversion to 1/2^32
// units; the resulting lsw values are part of the wire contract.
func mediaClockNTP(rtpTimestamp, clockRate uint32) (msw, lsw uint32) {
	if clockRate == 0 {
		return 0, 0
	}
	clock := float64(rtpTimestamp) / float64(clockRate)
	ipart, fraction := math.Modf(clock)
	fractionMs := fraction * 1000

	msw = uint32(ipart)
	lsw = uint32(fractionMs * 1000 * float64(uint64(1)<<32) * 1.0e-6)
	return msw, lsw
}

// wallClockNTP converts t to an NTP timestamp.
func wallClockNTP(t time.Time) (msw, lsw uint32) {
	ntp := toNTPTime(t)
	return uint32(ntp >> 32), uint32(ntp)
}

func toNTPTime(t time.Time) uint64 {
	nsec := uint64(t.UnixNano())
	sec := nsec / 1e9
	frac := (nsec % 1e9) << 32 / 1e9
	return (sec+ntpEpochOffset)<<32 | frac
}
