package rtprtcp

import (
	"fmt"

	"github.com/pion/rtcp"
)

// MessageKind tags a decoded RTCP message.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindSenderReport
	KindReceiverReport
	KindSourceDescription
	KindGoodbye
	KindFullIntraRequest
	KindPictureLossIndication
	KindSliceLossIndication
	KindNack
	KindRapidResync
	KindREMB
	KindTransportCC
	KindExtendedReport
)

var kindNames = map[MessageKind]string{
	KindUnknown:               "unknown",
	KindSenderReport:          "sr",
	KindReceiverReport:        "rr",
	KindSourceDescription:     "sdes",
	KindGoodbye:               "bye",
	KindFullIntraRequest:      "fir",
	KindPictureLossIndication: "pli",
	KindSliceLossIndication:   "sli",
	KindNack:                  "nack",
	KindRapidResync:           "rrr",
	KindREMB:                  "remb",
	KindTransportCC:           "twcc",
	KindExtendedReport:        "xr",
}

func (k MessageKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Message is one RTCP packet out of a compound datagram, tagged by kind.
type Message struct {
	Kind   MessageKind
	Packet rtcp.Packet
}

// NewMessage tags a decoded pion packet.
func NewMessage(p rtcp.Packet) Message {
	return Message{Kind: kindOf(p), Packet: p}
}

func kindOf(p rtcp.Packet) MessageKind {
	switch p.(type) {
	case *rtcp.SenderReport:
		return KindSenderReport
	case *rtcp.ReceiverReport:
		return KindReceiverReport
	case *rtcp.SourceDescription:
		return KindSourceDescription
	case *rtcp.Goodbye:
		return KindGoodbye
	case *rtcp.FullIntraRequest:
		return KindFullIntraRequest
	case *rtcp.PictureLossIndication:
		return KindPictureLossIndication
	case *rtcp.SliceLossIndication:
		return KindSliceLossIndication
	case *rtcp.TransportLayerNack:
		return KindNack
	case *rtcp.RapidResynchronizationRequest:
		return KindRapidResync
	case *rtcp.ReceiverEstimatedMaximumBitrate:
		return KindREMB
	case *rtcp.TransportLayerCC:
		return KindTransportCC
	case *rtcp.ExtendedReport:
		return KindExtendedReport
	default:
		return KindUnknown
	}
}

// SenderReport returns the packet as a sender report when Kind is KindSenderReport.
func (m Message) SenderReport() (*rtcp.SenderReport, bool) {
	if m.Kind != KindSenderReport {
		return nil, false
	}
	sr, ok := m.Packet.(*rtcp.SenderReport)
	return sr, ok
}

// ReceiverReport returns the packet as a receiver report when Kind is KindReceiverReport.
func (m Message) ReceiverReport() (*rtcp.ReceiverReport, bool) {
	if m.Kind != KindReceiverReport {
		return nil, false
	}
	rr, ok := m.Packet.(*rtcp.ReceiverReport)
	return rr, ok
}

// FullIntraRequest returns the packet as a FIR when Kind is KindFullIntraRequest.
func (m Message) FullIntraRequest() (*rtcp.FullIntraRequest, bool) {
	if m.Kind != KindFullIntraRequest {
		return nil, false
	}
	fir, ok := m.Packet.(*rtcp.FullIntraRequest)
	return fir, ok
}

// CompoundParser decodes one RTCP compound datagram and yields its messages in
// arrival order. A parser is used for a single datagram.
type CompoundParser interface {
	Parse(data []byte) error
	HasMore() bool
	Next() Message
}

// NewCompoundParser returns the default parser backed by pion/rtcp.
func NewCompoundParser() CompoundParser {
	return &pionCompoundParser{}
}

type pionCompoundParser struct {
	messages []Message
	next     int
}

func (p *pionCompoundParser) Parse(data []byte) error {
	packets, err := rtcp.Unmarshal(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRTCP, err)
	}

	p.messages = make([]Message, 0, len(packets))
	p.next = 0
	for _, pkt := range packets {
		p.messages = append(p.messages, NewMessage(pkt))
	}
	return nil
}

func (p *pionCompoundParser) HasMore() bool {
	return p.next < len(p.messages)
}

func (p *pionCompoundParser) Next() Message {
	if !p.HasMore() {
		return Message{}
	}
	m := p.messages[p.next]
	p.messages[p.next] = Message{}
	p.next++
	return m
}
