package rtprtcp

import (
	"errors"
	"sync"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sentDatagram struct {
	kind DataKind
	data []byte
}

// recordingTransport keeps every datagram sent downward.
type recordingTransport struct {
	mu      sync.Mutex
	sent    []sentDatagram
	failFor map[DataKind]bool
}

var errSendFailed = errors.New("send failed")

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{failFor: make(map[DataKind]bool)}
}

func (t *recordingTransport) Send(kind DataKind, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.failFor[kind] {
		return errSendFailed
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	t.sent = append(t.sent, sentDatagram{kind: kind, data: buf})
	return nil
}

func (t *recordingTransport) failKind(kind DataKind) {
	t.mu.Lock()
	t.failFor[kind] = true
	t.mu.Unlock()
}

func (t *recordingTransport) count(kind DataKind) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, d := range t.sent {
		if d.kind == kind {
			n++
		}
	}
	return n
}

// rtcpPackets decodes every RTCP datagram sent so far.
func (t *recordingTransport) rtcpPackets() []rtcp.Packet {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []rtcp.Packet
	for _, d := range t.sent {
		if d.kind != DataRTCP {
			continue
		}
		pkts, err := rtcp.Unmarshal(d.data)
		if err != nil {
			continue
		}
		out = append(out, pkts...)
	}
	return out
}

func (t *recordingTransport) senderReports() []*rtcp.SenderReport {
	var out []*rtcp.SenderReport
	for _, p := range t.rtcpPackets() {
		if sr, ok := p.(*rtcp.SenderReport); ok {
			out = append(out, sr)
		}
	}
	return out
}

func (t *recordingTransport) kinds() []DataKind {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]DataKind, 0, len(t.sent))
	for _, d := range t.sent {
		out = append(out, d.kind)
	}
	return out
}

type recordingObserver struct {
	mu       sync.Mutex
	frames   [][]*rtp.Packet
	messages []Message
}

func (o *recordingObserver) OnRTPFrameReceived(packets []*rtp.Packet) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.frames = append(o.frames, packets)
}

func (o *recordingObserver) OnRTCPReceived(msg Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, msg)
}

func (o *recordingObserver) frameCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.frames)
}

func (o *recordingObserver) messageCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.messages)
}

func newPacket(pt uint8, ssrc uint32, seq uint16, ts uint32, marker bool, payload ...byte) *rtp.Packet {
	if len(payload) == 0 {
		payload = []byte{0x01, 0x02, 0x03, 0x04}
	}
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			Marker:         marker,
			PayloadType:    pt,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           ssrc,
		},
		Payload: payload,
	}
}

func marshalPacket(p *rtp.Packet) []byte {
	data, err := p.Marshal()
	if err != nil {
		panic(err)
	}
	return data
}
