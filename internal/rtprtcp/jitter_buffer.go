package rtprtcp

import (
	"container/heap"
	"sync"

	"github.com/pion/rtp"
)

// Jitter buffer defaults
const (
	DefaultJitterBufferSize = 512
	DefaultMaxReorder       = 16
)

// Frame is a reassembled media frame. Packets are read with FirstPacket and then
// NextPacket until it returns nil; FirstPacket restarts the sequence.
type Frame interface {
	FirstPacket() *rtp.Packet
	NextPacket() *rtp.Packet
}

// FrameJitterBuffer reorders packets and releases complete frames.
type FrameJitterBuffer interface {
	Insert(packet *rtp.Packet) error
	PopAvailableFrame() Frame
}

// MinimalJitterBuffer reorders packets and releases them one by one.
type MinimalJitterBuffer interface {
	Insert(packet *rtp.Packet) error
	PopAvailablePacket() *rtp.Packet
}

// JitterBufferStats tracks jitter buffer performance
type JitterBufferStats struct {
	PacketsBuffered  uint64 `json:"packets_buffered"`
	PacketsDelivered uint64 `json:"packets_delivered"`
	PacketsDropped   uint64 `json:"packets_dropped"`
	PacketsLate      uint64 `json:"packets_late"`
	Duplicates       uint64 `json:"duplicates"`
	Restarts         uint64 `json:"restarts"`
	FramesDelivered  uint64 `json:"frames_delivered"`
	CurrentDepth     int    `json:"current_depth"`
	MaxDepth         int    `json:"max_depth"`
}

// packetHeap orders packets by sequence number with wraparound handling
type packetHeap []*rtp.Packet

func (h packetHeap) Len() int { return len(h) }
func (h packetHeap) Less(i, j int) bool {
	return sequenceDistance(h[i].SequenceNumber, h[j].SequenceNumber) < 0
}
func (h packetHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *packetHeap) Push(x interface{}) {
	*h = append(*h, x.(*rtp.Packet))
}

func (h *packetHeap) Pop() interface{} {
	old := *h
	n := len(old)
	p := old[n-1]
	old[n-1] = nil // avoid memory leak
	*h = old[0 : n-1]
	return p
}

// orderedPackets is the reordering core shared by both jitter buffers. It tracks
// the next sequence number expected for release and drops late or duplicate
// packets.
type orderedPackets struct {
	packets packetHeap
	seen    map[uint16]struct{}
	maxSize int
	next    uint16
	hasNext bool
	stats   JitterBufferStats
}

func newOrderedPackets(maxSize int) orderedPackets {
	if maxSize <= 0 {
		maxSize = DefaultJitterBufferSize
	}
	return orderedPackets{
		packets: make(packetHeap, 0, maxSize),
		seen:    make(map[uint16]struct{}, maxSize),
		maxSize: maxSize,
	}
}

func (o *orderedPackets) insert(packet *rtp.Packet) {
	seq := packet.SequenceNumber

	if o.isRestart(seq) {
		o.restart()
	}

	if o.hasNext && sequenceDistance(seq, o.next) < 0 {
		o.stats.PacketsLate++
		return
	}
	if _, dup := o.seen[seq]; dup {
		o.stats.Duplicates++
		return
	}

	if o.packets.Len() >= o.maxSize {
		// Drop oldest packet and skip the gap in front of it
		oldest := heap.Pop(&o.packets).(*rtp.Packet)
		delete(o.seen, oldest.SequenceNumber)
		o.stats.PacketsDropped++
		o.next = oldest.SequenceNumber + 1
		o.hasNext = true

		if sequenceDistance(seq, o.next) < 0 {
			o.stats.PacketsLate++
			return
		}
	}

	o.seen[seq] = struct{}{}
	heap.Push(&o.packets, packet)
	o.stats.PacketsBuffered++

	o.stats.CurrentDepth = o.packets.Len()
	if o.stats.CurrentDepth > o.stats.MaxDepth {
		o.stats.MaxDepth = o.stats.CurrentDepth
	}
}

// isRestart reports whether seq is so far from the expected sequence number,
// in either direction, that the source must have restarted its sequence space.
func (o *orderedPackets) isRestart(seq uint16) bool {
	ref, ok := o.next, o.hasNext
	if !ok {
		if h := o.head(); h != nil {
			ref, ok = h.SequenceNumber, true
		}
	}
	if !ok {
		return false
	}
	d := sequenceDistance(seq, ref)
	return d >= maxDropout || d <= -maxDropout
}

// restart drops everything buffered from the old sequence space and lets the
// next packet anchor the release order again.
func (o *orderedPackets) restart() {
	o.stats.PacketsDropped += uint64(o.packets.Len())
	o.stats.Restarts++
	for i := range o.packets {
		o.packets[i] = nil
	}
	o.packets = o.packets[:0]
	o.seen = make(map[uint16]struct{}, o.maxSize)
	o.hasNext = false
	o.stats.CurrentDepth = 0
}

func (o *orderedPackets) head() *rtp.Packet {
	if o.packets.Len() == 0 {
		return nil
	}
	return o.packets[0]
}

func (o *orderedPackets) pop() *rtp.Packet {
	p := o.remove()
	o.stats.PacketsDelivered++
	return p
}

func (o *orderedPackets) drop() {
	o.remove()
	o.stats.PacketsDropped++
}

func (o *orderedPackets) remove() *rtp.Packet {
	p := heap.Pop(&o.packets).(*rtp.Packet)
	delete(o.seen, p.SequenceNumber)
	o.next = p.SequenceNumber + 1
	o.hasNext = true
	o.stats.CurrentDepth = o.packets.Len()
	return p
}

// inOrder reports whether the head of the heap is the next packet expected.
func (o *orderedPackets) inOrder() bool {
	h := o.head()
	return h != nil && (!o.hasNext || h.SequenceNumber == o.next)
}

// skipGap gives up on missing packets in front of the head.
func (o *orderedPackets) skipGap() {
	if h := o.head(); h != nil {
		o.next = h.SequenceNumber
		o.hasNext = true
	}
}

// MinimalBuffer releases packets in sequence order as soon as they are next in
// line. A gap is skipped once maxReorder packets are waiting behind it.
type MinimalBuffer struct {
	mu         sync.Mutex
	ordered    orderedPackets
	maxReorder int
}

// NewMinimalBuffer creates a minimal jitter buffer.
func NewMinimalBuffer(maxSize, maxReorder int) *MinimalBuffer {
	if maxSize <= 0 {
		maxSize = DefaultJitterBufferSize
	}
	if maxReorder <= 0 || maxReorder > maxSize {
		maxReorder = maxSize
	}
	return &MinimalBuffer{
		ordered:    newOrderedPackets(maxSize),
		maxReorder: maxReorder,
	}
}

// Insert adds a packet to the buffer.
func (b *MinimalBuffer) Insert(packet *rtp.Packet) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ordered.insert(packet)
	return nil
}

// PopAvailablePacket returns the next releasable packet, or nil.
func (b *MinimalBuffer) PopAvailablePacket() *rtp.Packet {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.ordered.inOrder() && b.ordered.packets.Len() >= b.maxReorder {
		b.ordered.skipGap()
	}
	if !b.ordered.inOrder() {
		return nil
	}
	return b.ordered.pop()
}

// Stats returns current jitter buffer statistics
func (b *MinimalBuffer) Stats() JitterBufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ordered.stats
}

// FrameBuffer reassembles frames: consecutive packets sharing an RTP timestamp,
// the last of which carries the marker bit. A frame is released once every
// packet from the expected sequence number through the marker has arrived.
type FrameBuffer struct {
	mu         sync.Mutex
	ordered    orderedPackets
	maxReorder int
}

// NewFrameBuffer creates a frame reassembling jitter buffer.
func NewFrameBuffer(maxSize, maxReorder int) *FrameBuffer {
	if maxSize <= 0 {
		maxSize = DefaultJitterBufferSize
	}
	if maxReorder <= 0 || maxReorder > maxSize {
		maxReorder = maxSize
	}
	return &FrameBuffer{
		ordered:    newOrderedPackets(maxSize),
		maxReorder: maxReorder,
	}
}

// Insert adds a packet to the buffer.
func (b *FrameBuffer) Insert(packet *rtp.Packet) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ordered.insert(packet)
	return nil
}

// PopAvailableFrame returns the next complete frame, or nil. An incomplete frame
// at the head is discarded once maxReorder packets are waiting behind it.
func (b *FrameBuffer) PopAvailableFrame() Frame {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.ordered.packets.Len() > 0 {
		if !b.ordered.inOrder() {
			if b.ordered.packets.Len() < b.maxReorder {
				return nil
			}
			b.ordered.skipGap()
		}

		n, complete := b.headFrame()
		if complete {
			packets := make([]*rtp.Packet, 0, n)
			for i := 0; i < n; i++ {
				packets = append(packets, b.ordered.pop())
			}
			b.ordered.stats.FramesDelivered++
			return &bufferedFrame{packets: packets}
		}

		if b.ordered.packets.Len() < b.maxReorder {
			return nil
		}
		for i := 0; i < n; i++ {
			b.ordered.drop()
		}
		b.ordered.skipGap()
	}
	return nil
}

// headFrame counts the contiguous packets of the frame at the head of the buffer.
// The frame is complete when the run ends with the marker bit or is followed
// directly by a packet of the next frame.
func (b *FrameBuffer) headFrame() (int, bool) {
	// The heap only orders its root, so walk a copy.
	sorted := make(packetHeap, len(b.ordered.packets))
	copy(sorted, b.ordered.packets)

	head := sorted[0]
	expected := head.SequenceNumber
	n := 0
	for sorted.Len() > 0 {
		p := heap.Pop(&sorted).(*rtp.Packet)
		if p.SequenceNumber != expected {
			return n, false
		}
		if p.Timestamp != head.Timestamp {
			return n, true
		}
		n++
		if p.Marker {
			return n, true
		}
		expected++
	}
	return n, false
}

// Stats returns current jitter buffer statistics
func (b *FrameBuffer) Stats() JitterBufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ordered.stats
}

type bufferedFrame struct {
	packets []*rtp.Packet
	pos     int
}

func (f *bufferedFrame) FirstPacket() *rtp.Packet {
	f.pos = 0
	return f.NextPacket()
}

func (f *bufferedFrame) NextPacket() *rtp.Packet {
	if f.pos >= len(f.packets) {
		return nil
	}
	p := f.packets[f.pos]
	f.pos++
	return p
}
