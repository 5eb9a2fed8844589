package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Inbound datagram metrics
	datagramsReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtpnode_datagrams_received_total",
		Help: "Inbound datagrams accepted by classification",
	}, []string{"class"})

	packetsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtpnode_packets_dropped_total",
		Help: "Inbound datagrams dropped by the node",
	}, []string{"reason"})

	rtcpReceivedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtpnode_rtcp_received_total",
		Help: "Decoded inbound RTCP messages by type",
	}, []string{"type"})

	framesDeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtpnode_frames_delivered_total",
		Help: "Frames or packets delivered to the observer by jitter buffer class",
	}, []string{"class"})

	framePackets = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rtpnode_frame_packets",
		Help:    "Packets per delivered frame",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 to 512 packets
	}, []string{"class"})

	receiveSourcesActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtpnode_receive_sources_active",
		Help: "Inbound SSRCs with a statistics entry",
	})

	// Outbound metrics
	packetsSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtpnode_packets_sent_total",
		Help: "Datagrams forwarded to the lower transport",
	}, []string{"kind"})

	rtcpSentTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtpnode_rtcp_sent_total",
		Help: "RTCP packets generated and sent by the node by type",
	}, []string{"type"})

	sendErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtpnode_send_errors_total",
		Help: "Failed sends to the lower transport",
	}, []string{"kind"})

	// Lifecycle metrics
	stateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtpnode_state_transitions_total",
		Help: "Node lifecycle transitions",
	}, []string{"from", "to"})

	lifecycleRejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtpnode_lifecycle_rejections_total",
		Help: "Operations refused because of the node state",
	}, []string{"operation"})

	// Transport metrics
	transportDatagramsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtpnode_transport_datagrams_total",
		Help: "Datagrams read from or written to the UDP socket",
	}, []string{"direction"})

	transportBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtpnode_transport_bytes_total",
		Help: "Bytes read from or written to the UDP socket",
	}, []string{"direction"})

	transportRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rtpnode_transport_rate_limited_total",
		Help: "Inbound datagrams dropped by the rate limiter",
	})

	transportErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtpnode_transport_errors_total",
		Help: "UDP socket errors",
	}, []string{"operation"})

	// Debug metrics
	goroutinesActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "debug_goroutines_active",
		Help: "Number of active goroutines",
	}, []string{"component"})
)

// IncrementDatagramsReceived counts an inbound datagram of the given class.
func IncrementDatagramsReceived(class string) {
	datagramsReceivedTotal.WithLabelValues(class).Inc()
}

// IncrementPacketsDropped counts a dropped inbound datagram.
func IncrementPacketsDropped(reason string) {
	packetsDroppedTotal.WithLabelValues(reason).Inc()
}

// IncrementRTCPReceived counts a decoded inbound RTCP message.
func IncrementRTCPReceived(msgType string) {
	rtcpReceivedTotal.WithLabelValues(msgType).Inc()
}

// ObserveFrameDelivered records a frame handed to the observer.
func ObserveFrameDelivered(class string, packets int) {
	framesDeliveredTotal.WithLabelValues(class).Inc()
	framePackets.WithLabelValues(class).Observe(float64(packets))
}

// IncrementReceiveSources records a newly seen inbound SSRC.
func IncrementReceiveSources() {
	receiveSourcesActive.Inc()
}

// IncrementPacketsSent counts a datagram forwarded downward.
func IncrementPacketsSent(kind string) {
	packetsSentTotal.WithLabelValues(kind).Inc()
}

// IncrementRTCPSent counts an RTCP packet generated by the node.
func IncrementRTCPSent(msgType string) {
	rtcpSentTotal.WithLabelValues(msgType).Inc()
	packetsSentTotal.WithLabelValues("rtcp").Inc()
}

// IncrementSendError counts a failed downward send.
func IncrementSendError(kind string) {
	sendErrorsTotal.WithLabelValues(kind).Inc()
}

// RecordStateTransition counts a lifecycle transition.
func RecordStateTransition(from, to string) {
	stateTransitionsTotal.WithLabelValues(from, to).Inc()
}

// IncrementLifecycleRejection counts an operation refused by the node state.
func IncrementLifecycleRejection(operation string) {
	lifecycleRejectionsTotal.WithLabelValues(operation).Inc()
}

// RecordTransportRead counts a datagram read from the socket.
func RecordTransportRead(bytes int) {
	transportDatagramsTotal.WithLabelValues("in").Inc()
	transportBytesTotal.WithLabelValues("in").Add(float64(bytes))
}

// RecordTransportWrite counts a datagram written to the socket.
func RecordTransportWrite(bytes int) {
	transportDatagramsTotal.WithLabelValues("out").Inc()
	transportBytesTotal.WithLabelValues("out").Add(float64(bytes))
}

// IncrementTransportRateLimited counts an inbound datagram dropped by the limiter.
func IncrementTransportRateLimited() {
	transportRateLimitedTotal.Inc()
}

// IncrementTransportError counts a socket error.
func IncrementTransportError(operation string) {
	transportErrorsTotal.WithLabelValues(operation).Inc()
}

// Debug metrics functions

// IncrementGoroutineCreated marks a goroutine started by component.
func IncrementGoroutineCreated(component string) {
	goroutinesActive.WithLabelValues(component).Inc()
}

// IncrementGoroutineDestroyed marks a goroutine of component as finished.
func IncrementGoroutineDestroyed(component string) {
	goroutinesActive.WithLabelValues(component).Dec()
}
