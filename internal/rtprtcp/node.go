package rtprtcp

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/randutil"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/zsiec/rtpnode/internal/logger"
	"github.com/zsiec/rtpnode/internal/metrics"
)

// DefaultReceiverReportInterval is how often a receiver report is sent per source
// when the node is not configured otherwise.
const DefaultReceiverReportInterval = 500 * time.Millisecond

// DataKind tags a datagram exchanged with the lower transport.
type DataKind int

const (
	DataRTP DataKind = iota
	DataRTCP
)

func (k DataKind) String() string {
	if k == DataRTCP {
		return "rtcp"
	}
	return "rtp"
}

// Transport is the layer below the node. Send must not block.
type Transport interface {
	Send(kind DataKind, data []byte) error
}

// Observer is the layer above the node. Callbacks run on the goroutine that
// delivered the datagram and must not block.
type Observer interface {
	OnRTPFrameReceived(packets []*rtp.Packet)
	OnRTCPReceived(msg Message)
}

// Config holds node settings. Zero values select defaults.
type Config struct {
	ReceiverReportInterval time.Duration
	// ReceiverSSRC is the local SSRC used in receiver reports and FIR. A random
	// value is chosen when zero.
	ReceiverSSRC     uint32
	NTPMode          NTPMode
	JitterBufferSize int
	MaxReorder       int
	Clock            Clock

	NewCompoundParser func() CompoundParser
	NewFrameBuffer    func() FrameJitterBuffer
	NewMinimalBuffer  func() MinimalJitterBuffer
}

func (c *Config) applyDefaults() {
	if c.ReceiverReportInterval <= 0 {
		c.ReceiverReportInterval = DefaultReceiverReportInterval
	}
	if c.ReceiverSSRC == 0 {
		c.ReceiverSSRC = randutil.NewMathRandomGenerator().Uint32()
	}
	if c.JitterBufferSize <= 0 {
		c.JitterBufferSize = DefaultJitterBufferSize
	}
	if c.MaxReorder <= 0 {
		c.MaxReorder = DefaultMaxReorder
	}
	if c.Clock == nil {
		c.Clock = defaultClock
	}
	if c.NewCompoundParser == nil {
		c.NewCompoundParser = NewCompoundParser
	}
	if c.NewFrameBuffer == nil {
		size, reorder := c.JitterBufferSize, c.MaxReorder
		c.NewFrameBuffer = func() FrameJitterBuffer { return NewFrameBuffer(size, reorder) }
	}
	if c.NewMinimalBuffer == nil {
		size, reorder := c.JitterBufferSize, c.MaxReorder
		c.NewMinimalBuffer = func() MinimalJitterBuffer { return NewMinimalBuffer(size, reorder) }
	}
}

// OutboundRTCP is an RTCP packet the node sent downward.
type OutboundRTCP struct {
	Kind   MessageKind
	Packet rtcp.Packet
	Data   []byte
}

type trackEntry struct {
	track *Track
	class JitterBufferClass
}

// inbound collects what one datagram produced for the observer. It is delivered
// after the registration lock is released so observers may call back into the node.
type inbound struct {
	frames   [][]*rtp.Packet
	messages []Message
}

// Node is the RTP/RTCP transport node. It sits between a datagram transport
// below and an Observer above, keeps per-source reception statistics and emits
// sender reports, receiver reports and FIR feedback.
//
// mu guards the lifecycle, the lower and upper references and every
// registration table. Registration and Stop hold it exclusively, packet paths
// hold it shared. The statistics table has its own lock because it is written
// from inside the shared region.
type Node struct {
	id      string
	cfg     Config
	logger  logger.Logger
	sampled *logger.SampledLogger

	mu             sync.RWMutex
	lifecycle      *lifecycle
	lower          Transport
	observer       Observer
	schedulers     map[uint8]*SenderReportScheduler
	tracks         map[uint8]trackEntry
	frameBuffers   map[uint8]FrameJitterBuffer
	minimalBuffers map[uint8]MinimalJitterBuffer

	statsMu sync.RWMutex
	stats   map[uint32]*ReceiveStatistics

	lastMu   sync.Mutex
	lastRTP  *rtp.Packet
	lastRTCP *OutboundRTCP
}

// NewNode creates a node in the Created state. observer may be nil.
func NewNode(cfg Config, observer Observer, log logger.Logger) *Node {
	cfg.applyDefaults()
	if log == nil {
		log = logger.NewNullLogger()
	}

	id := uuid.New().String()
	log = log.WithFields(map[string]interface{}{
		"component":     "rtprtcp_node",
		"node_id":       id,
		"receiver_ssrc": cfg.ReceiverSSRC,
	})

	n := &Node{
		id:             id,
		cfg:            cfg,
		logger:         log,
		sampled:        logger.NewPacketLogger(log),
		observer:       observer,
		schedulers:     make(map[uint8]*SenderReportScheduler),
		tracks:         make(map[uint8]trackEntry),
		frameBuffers:   make(map[uint8]FrameJitterBuffer),
		minimalBuffers: make(map[uint8]MinimalJitterBuffer),
		stats:          make(map[uint32]*ReceiveStatistics),
	}
	n.lifecycle = newLifecycle(func(from, to State) {
		metrics.RecordStateTransition(from.String(), to.String())
		n.logger.WithFields(map[string]interface{}{
			"from": from.String(),
			"to":   to.String(),
		}).Info("Node state changed")
	})
	return n
}

// ID returns the node identifier.
func (n *Node) ID() string { return n.id }

// ReceiverSSRC returns the local SSRC used for feedback.
func (n *Node) ReceiverSSRC() uint32 { return n.cfg.ReceiverSSRC }

// State returns the current lifecycle state.
func (n *Node) State() State {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lifecycle.current()
}

// Prepare binds the lower transport and moves the node to Ready.
func (n *Node) Prepare(lower Transport) error {
	if lower == nil {
		return fmt.Errorf("%w: nil transport", ErrInvalidArgument)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.lifecycle.fire(eventPrepare); err != nil {
		n.logger.WithError(err).Debug("Prepare rejected")
		return err
	}
	n.lower = lower
	return nil
}

// AddSenderReportScheduler registers sender report generation for outbound
// packets of payloadType. Only allowed while Ready.
func (n *Node) AddSenderReportScheduler(payloadType uint8, ssrc, clockRate uint32) error {
	if clockRate == 0 {
		return fmt.Errorf("%w: clock rate must be positive", ErrInvalidArgument)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.requireReadyLocked("add sender report scheduler"); err != nil {
		return err
	}

	n.schedulers[payloadType] = NewSenderReportScheduler(ssrc, clockRate, n.cfg.NTPMode, n.cfg.Clock)
	n.logger.WithFields(map[string]interface{}{
		"payload_type": payloadType,
		"ssrc":         ssrc,
		"clock_rate":   clockRate,
	}).Debug("Sender report scheduler registered")
	return nil
}

// AddReceiver registers an inbound track for payloadType and creates the jitter
// buffer its bitstream format calls for. Only allowed while Ready.
func (n *Node) AddReceiver(payloadType uint8, track *Track) error {
	if track == nil {
		return fmt.Errorf("%w: nil track", ErrInvalidArgument)
	}
	class := track.Format.JitterClass()
	if class == ClassNone {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, track.Format)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if err := n.requireReadyLocked("add receiver"); err != nil {
		return err
	}

	// One jitter buffer kind per payload type.
	delete(n.frameBuffers, payloadType)
	delete(n.minimalBuffers, payloadType)

	switch class {
	case FrameReassembling:
		n.frameBuffers[payloadType] = n.cfg.NewFrameBuffer()
	case MinimalPassthrough:
		n.minimalBuffers[payloadType] = n.cfg.NewMinimalBuffer()
	}
	n.tracks[payloadType] = trackEntry{track: track, class: class}

	n.logger.WithFields(map[string]interface{}{
		"payload_type": payloadType,
		"format":       track.Format.String(),
		"clock_rate":   track.ClockRate,
		"jitter_class": class.String(),
	}).Debug("Receiver registered")
	return nil
}

// Start moves the node from Ready to Started.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.lifecycle.current() != StateReady {
		n.logger.WithField("state", n.lifecycle.current().String()).Debug("Start rejected")
		return fmt.Errorf("%w: start from %s", ErrNotReady, n.lifecycle.current())
	}
	return n.lifecycle.fire(eventStart)
}

// Stop moves the node to Stopped and releases the observer. Calling Stop more
// than once, or before Start, is allowed.
func (n *Node) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.lifecycle.current() == StateStopped {
		return
	}
	if err := n.lifecycle.fire(eventStop); err != nil {
		n.logger.WithError(err).Warn("Stop transition failed")
	}
	n.observer = nil
}

func (n *Node) requireReadyLocked(op string) error {
	if state := n.lifecycle.current(); state != StateReady {
		metrics.IncrementLifecycleRejection(op)
		n.logger.WithFields(map[string]interface{}{
			"operation": op,
			"state":     state.String(),
		}).Debug("Registration rejected")
		return fmt.Errorf("%w: %s in %s", ErrNotReady, op, state)
	}
	return nil
}

func (n *Node) requireStartedLocked(op string) error {
	if state := n.lifecycle.current(); state != StateStarted {
		metrics.IncrementLifecycleRejection(op)
		n.sampled.DebugWithCategory(logger.CategoryLifecycle, "Operation rejected", map[string]interface{}{
			"operation": op,
			"state":     state.String(),
		})
		return fmt.Errorf("%w: %s in %s", ErrNotStarted, op, state)
	}
	return nil
}

// SendRTP forwards an outbound RTP packet downward. When a sender report is due
// for the packet's payload type it is sent first; a failure to send the report
// does not stop the packet.
func (n *Node) SendRTP(packet *rtp.Packet) error {
	if packet == nil {
		return fmt.Errorf("%w: nil packet", ErrInvalidArgument)
	}

	n.mu.RLock()
	defer n.mu.RUnlock()

	if err := n.requireStartedLocked("send rtp"); err != nil {
		return err
	}

	data, err := packet.Marshal()
	if err != nil {
		return fmt.Errorf("marshal rtp: %w", err)
	}

	if scheduler, ok := n.schedulers[packet.PayloadType]; ok {
		scheduler.Observe(packet)
		if scheduler.HasPendingReport() {
			if sr := scheduler.TakePendingReport(); sr != nil {
				if err := n.sendRTCPLocked(sr); err != nil {
					n.logger.WithError(err).WithField("payload_type", packet.PayloadType).
						Warn("Failed to send sender report")
				}
			}
		}
	}

	n.lastMu.Lock()
	n.lastRTP = packet.Clone()
	n.lastMu.Unlock()

	if err := n.lower.Send(DataRTP, data); err != nil {
		metrics.IncrementSendError(DataRTP.String())
		n.sampled.WarnWithCategory(logger.CategoryTransport, "Failed to send RTP packet", map[string]interface{}{
			"error":        err.Error(),
			"payload_type": packet.PayloadType,
		})
		return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}
	metrics.IncrementPacketsSent(DataRTP.String())
	return nil
}

// ForwardFromAbove passes data submitted by an upper layer straight to the lower
// transport.
func (n *Node) ForwardFromAbove(kind DataKind, data []byte) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if err := n.requireStartedLocked("forward from above"); err != nil {
		return err
	}
	if err := n.lower.Send(kind, data); err != nil {
		metrics.IncrementSendError(kind.String())
		return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}
	metrics.IncrementPacketsSent(kind.String())
	return nil
}

// OnDatagram handles one datagram from the lower transport. Parsed packets alias
// data, so the caller must pass a buffer it will not reuse.
func (n *Node) OnDatagram(data []byte) error {
	n.mu.RLock()
	var in inbound
	err := n.onDatagramLocked(data, &in)
	observer := n.observer
	n.mu.RUnlock()

	if observer != nil {
		for _, frame := range in.frames {
			observer.OnRTPFrameReceived(frame)
		}
		for _, msg := range in.messages {
			observer.OnRTCPReceived(msg)
		}
	}
	return err
}

func (n *Node) onDatagramLocked(data []byte, in *inbound) error {
	if err := n.requireStartedLocked("receive datagram"); err != nil {
		return err
	}

	if len(data) < RTCPHeaderSize {
		n.dropInput("too_short", ErrPacketTooShort, len(data))
		return fmt.Errorf("%w: %d bytes", ErrPacketTooShort, len(data))
	}

	switch class := Classify(data); class {
	case ClassRTP:
		metrics.IncrementDatagramsReceived(class.String())
		return n.onRTP(data, in)
	case ClassRTCP:
		metrics.IncrementDatagramsReceived(class.String())
		return n.onRTCP(data, in)
	default:
		n.dropInput("not_rtp_or_rtcp", ErrNotRTPOrRTCP, len(data))
		return fmt.Errorf("%w: first byte %d", ErrNotRTPOrRTCP, data[0])
	}
}

func (n *Node) onRTP(data []byte, in *inbound) error {
	packet := &rtp.Packet{}
	if err := packet.Unmarshal(data); err != nil {
		n.dropInput("malformed_rtp", err, len(data))
		return fmt.Errorf("unmarshal rtp: %w", err)
	}
	if packet.Version != 2 {
		n.dropInput("invalid_version", ErrInvalidRTPVersion, len(data))
		return fmt.Errorf("%w: %d", ErrInvalidRTPVersion, packet.Version)
	}

	entry, ok := n.tracks[packet.PayloadType]
	if !ok {
		n.dropRoute("unknown_payload_type", ErrUnknownPayloadType, packet)
		return fmt.Errorf("%w: %d", ErrUnknownPayloadType, packet.PayloadType)
	}

	stats := n.statsFor(packet.SSRC, packet.PayloadType, entry.track.ClockRate)
	stats.Record(packet)

	if block, due := stats.ReportBlockIfDue(n.cfg.ReceiverReportInterval); due {
		rr := &rtcp.ReceiverReport{
			SSRC:    stats.ReceiverSSRC(),
			Reports: []rtcp.ReceptionReport{block},
		}
		if err := n.sendRTCPLocked(rr); err != nil {
			n.logger.WithError(err).WithField("ssrc", packet.SSRC).Warn("Failed to send receiver report")
		}
	}

	switch entry.class {
	case FrameReassembling:
		buffer, ok := n.frameBuffers[packet.PayloadType]
		if !ok {
			n.dropRoute("no_jitter_buffer", ErrNoJitterBuffer, packet)
			return fmt.Errorf("%w: %d", ErrNoJitterBuffer, packet.PayloadType)
		}
		if err := buffer.Insert(packet); err != nil {
			n.dropInput("jitter_buffer", err, len(data))
			return fmt.Errorf("jitter buffer insert: %w", err)
		}
		for frame := buffer.PopAvailableFrame(); frame != nil; frame = buffer.PopAvailableFrame() {
			if packets := collectFrame(frame); len(packets) > 0 {
				metrics.ObserveFrameDelivered(entry.class.String(), len(packets))
				in.frames = append(in.frames, packets)
			}
		}

	case MinimalPassthrough:
		buffer, ok := n.minimalBuffers[packet.PayloadType]
		if !ok {
			n.dropRoute("no_jitter_buffer", ErrNoJitterBuffer, packet)
			return fmt.Errorf("%w: %d", ErrNoJitterBuffer, packet.PayloadType)
		}
		if err := buffer.Insert(packet); err != nil {
			n.dropInput("jitter_buffer", err, len(data))
			return fmt.Errorf("jitter buffer insert: %w", err)
		}
		for p := buffer.PopAvailablePacket(); p != nil; p = buffer.PopAvailablePacket() {
			metrics.ObserveFrameDelivered(entry.class.String(), 1)
			in.frames = append(in.frames, []*rtp.Packet{p})
		}

	default:
		n.dropRoute("no_jitter_buffer", ErrNoJitterBuffer, packet)
		return fmt.Errorf("%w: %d", ErrNoJitterBuffer, packet.PayloadType)
	}
	return nil
}

func (n *Node) onRTCP(data []byte, in *inbound) error {
	parser := n.cfg.NewCompoundParser()
	if err := parser.Parse(data); err != nil {
		n.dropInput("malformed_rtcp", err, len(data))
		return err
	}

	for parser.HasMore() {
		msg := parser.Next()
		metrics.IncrementRTCPReceived(msg.Kind.String())

		switch msg.Kind {
		case KindSenderReport:
			if sr, ok := msg.SenderReport(); ok {
				if stats, found := n.lookupStats(sr.SSRC); found {
					stats.RecordSenderReport(sr)
				}
			}
		case KindUnknown:
			n.sampled.DebugWithCategory(logger.CategoryPacketProcessing, "Unrecognized RTCP message", map[string]interface{}{
				"bytes": len(data),
			})
		}
		in.messages = append(in.messages, msg)
	}
	return nil
}

// SendFIR asks mediaSSRC for a key frame. The source must have sent at least one
// RTP packet to this node.
func (n *Node) SendFIR(mediaSSRC uint32) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if err := n.requireStartedLocked("send fir"); err != nil {
		return err
	}

	stats, ok := n.lookupStats(mediaSSRC)
	if !ok {
		n.sampled.ErrorWithCategory(logger.CategoryUnregisteredRoute, "FIR requested for unknown source", map[string]interface{}{
			"ssrc": mediaSSRC,
		})
		return fmt.Errorf("%w: %d", ErrUnknownSSRC, mediaSSRC)
	}

	return n.sendRTCPLocked(BuildFIR(stats, mediaSSRC))
}

// ReceivedPayloadType returns the payload type first seen from ssrc.
func (n *Node) ReceivedPayloadType(ssrc uint32) (uint8, bool) {
	stats, ok := n.lookupStats(ssrc)
	if !ok {
		return 0, false
	}
	return stats.PayloadType(), true
}

// LastSentRTP returns a copy of the most recent RTP packet sent downward, or nil.
func (n *Node) LastSentRTP() *rtp.Packet {
	n.lastMu.Lock()
	defer n.lastMu.Unlock()
	return n.lastRTP
}

// LastSentRTCP returns the most recent RTCP packet sent downward, or nil.
func (n *Node) LastSentRTCP() *OutboundRTCP {
	n.lastMu.Lock()
	defer n.lastMu.Unlock()
	return n.lastRTCP
}

func (n *Node) sendRTCPLocked(pkt rtcp.Packet) error {
	data, err := pkt.Marshal()
	if err != nil {
		return fmt.Errorf("marshal rtcp: %w", err)
	}

	kind := kindOf(pkt)
	n.lastMu.Lock()
	n.lastRTCP = &OutboundRTCP{Kind: kind, Packet: pkt, Data: data}
	n.lastMu.Unlock()

	if err := n.lower.Send(DataRTCP, data); err != nil {
		metrics.IncrementSendError(DataRTCP.String())
		return fmt.Errorf("%w: %w", ErrTransportUnavailable, err)
	}
	metrics.IncrementRTCPSent(kind.String())
	return nil
}

// statsFor returns the entry for ssrc, creating it on first sight.
func (n *Node) statsFor(ssrc uint32, payloadType uint8, clockRate uint32) *ReceiveStatistics {
	if stats, ok := n.lookupStats(ssrc); ok {
		return stats
	}

	n.statsMu.Lock()
	defer n.statsMu.Unlock()
	if stats, ok := n.stats[ssrc]; ok {
		return stats
	}

	stats := NewReceiveStatistics(payloadType, ssrc, n.cfg.ReceiverSSRC, clockRate, n.cfg.Clock)
	n.stats[ssrc] = stats
	metrics.IncrementReceiveSources()
	n.logger.WithFields(map[string]interface{}{
		"ssrc":         ssrc,
		"payload_type": payloadType,
	}).Info("New receive source")
	return stats
}

func (n *Node) lookupStats(ssrc uint32) (*ReceiveStatistics, bool) {
	n.statsMu.RLock()
	defer n.statsMu.RUnlock()
	stats, ok := n.stats[ssrc]
	return stats, ok
}

func (n *Node) dropInput(reason string, err error, size int) {
	metrics.IncrementPacketsDropped(reason)
	n.sampled.DebugWithCategory(logger.CategoryMalformedInput, "Dropped inbound datagram", map[string]interface{}{
		"reason": reason,
		"error":  err.Error(),
		"bytes":  size,
	})
}

func (n *Node) dropRoute(reason string, err error, packet *rtp.Packet) {
	metrics.IncrementPacketsDropped(reason)
	n.sampled.ErrorWithCategory(logger.CategoryUnregisteredRoute, "Dropped packet without route", map[string]interface{}{
		"reason":       reason,
		"error":        err.Error(),
		"payload_type": packet.PayloadType,
		"ssrc":         packet.SSRC,
	})
}

func collectFrame(frame Frame) []*rtp.Packet {
	var packets []*rtp.Packet
	for p := frame.FirstPacket(); p != nil; p = frame.NextPacket() {
		packets = append(packets, p)
	}
	return packets
}

// TrackInfo describes a registered receiver.
type TrackInfo struct {
	PayloadType uint8  `json:"payload_type"`
	Format      string `json:"format"`
	ClockRate   uint32 `json:"clock_rate"`
	JitterClass string `json:"jitter_class"`
}

// NodeSnapshot is a point-in-time view of a node.
type NodeSnapshot struct {
	ID            string              `json:"id"`
	State         string              `json:"state"`
	ReceiverSSRC  uint32              `json:"receiver_ssrc"`
	SenderReports []SenderReportStats `json:"sender_reports"`
	Tracks        []TrackInfo         `json:"tracks"`
	Sources       []SourceStats       `json:"sources"`
}

// Snapshot returns the current node view, ordered by payload type and SSRC.
func (n *Node) Snapshot() NodeSnapshot {
	n.mu.RLock()
	snap := NodeSnapshot{
		ID:            n.id,
		State:         n.lifecycle.current().String(),
		ReceiverSSRC:  n.cfg.ReceiverSSRC,
		SenderReports: make([]SenderReportStats, 0, len(n.schedulers)),
		Tracks:        make([]TrackInfo, 0, len(n.tracks)),
	}
	for pt, scheduler := range n.schedulers {
		stats := scheduler.Stats()
		stats.PayloadType = pt
		snap.SenderReports = append(snap.SenderReports, stats)
	}
	for pt, entry := range n.tracks {
		snap.Tracks = append(snap.Tracks, TrackInfo{
			PayloadType: pt,
			Format:      entry.track.Format.String(),
			ClockRate:   entry.track.ClockRate,
			JitterClass: entry.class.String(),
		})
	}
	n.mu.RUnlock()

	n.statsMu.RLock()
	snap.Sources = make([]SourceStats, 0, len(n.stats))
	for _, stats := range n.stats {
		snap.Sources = append(snap.Sources, stats.Snapshot())
	}
	n.statsMu.RUnlock()

	sort.Slice(snap.SenderReports, func(i, j int) bool {
		return snap.SenderReports[i].PayloadType < snap.SenderReports[j].PayloadType
	})
	sort.Slice(snap.Tracks, func(i, j int) bool { return snap.Tracks[i].PayloadType < snap.Tracks[j].PayloadType })
	sort.Slice(snap.Sources, func(i, j int) bool { return snap.Sources[i].SSRC < snap.Sources[j].SSRC })
	return snap
}
