// Package transport carries node datagrams over a single UDP socket with RTP
// and RTCP multiplexed on one port (RFC 5761).
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/zsiec/rtpnode/internal/config"
	"github.com/zsiec/rtpnode/internal/logger"
	"github.com/zsiec/rtpnode/internal/metrics"
	"github.com/zsiec/rtpnode/internal/rtprtcp"
)

var (
	// ErrNoRemote is returned by Send before the peer address is known.
	ErrNoRemote = errors.New("remote peer not known")
	// ErrClosed is returned by Send after Stop.
	ErrClosed = errors.New("transport closed")
)

// DatagramHandler receives every inbound datagram. The slice is owned by the
// handler.
type DatagramHandler func(data []byte) error

// UDPTransport implements rtprtcp.Transport over UDP.
type UDPTransport struct {
	cfg     config.TransportConfig
	handler DatagramHandler
	logger  logger.Logger
	sampled *logger.SampledLogger
	limiter *rate.Limiter

	mu          sync.RWMutex
	conn        *net.UDPConn
	remote      *net.UDPAddr
	fixedRemote bool
	closed      bool
	remoteKnown *metrics.Gauge

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ rtprtcp.Transport = (*UDPTransport)(nil)

// NewUDPTransport validates cfg and prepares a transport. The socket is not
// opened until Start.
func NewUDPTransport(cfg config.TransportConfig, handler DatagramHandler, log logger.Logger) (*UDPTransport, error) {
	if handler == nil {
		return nil, fmt.Errorf("datagram handler is required")
	}
	if log == nil {
		log = logger.NewNullLogger()
	}
	if cfg.MaxDatagramSize <= 0 {
		cfg.MaxDatagramSize = 1500
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = time.Second
	}

	t := &UDPTransport{
		cfg:     cfg,
		handler: handler,
		logger:  log.WithField("component", "udp_transport"),
	}
	t.sampled = logger.NewPacketLogger(t.logger)

	if cfg.RemoteAddr != "" {
		remote, err := net.ResolveUDPAddr("udp", cfg.RemoteAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve remote address: %w", err)
		}
		t.remote = remote
		t.fixedRemote = true
	}
	if cfg.RateLimit > 0 {
		t.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	}
	return t, nil
}

// Start binds the socket and runs the read loop until ctx is done or Stop
// is called.
func (t *UDPTransport) Start(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", t.cfg.ListenAddr, t.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to resolve listen address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP port: %w", err)
	}

	if t.cfg.ReadBufferSize > 0 {
		if err := conn.SetReadBuffer(t.cfg.ReadBufferSize); err != nil {
			t.logger.WithError(err).Warn("Failed to set UDP read buffer size")
		}
		if err := conn.SetWriteBuffer(t.cfg.ReadBufferSize); err != nil {
			t.logger.WithError(err).Warn("Failed to set UDP write buffer size")
		}
	}

	t.mu.Lock()
	if t.conn != nil || t.closed {
		t.mu.Unlock()
		conn.Close()
		return fmt.Errorf("transport already started")
	}
	t.conn = conn
	t.remoteKnown = metrics.NewGauge(
		"rtpnode_transport_remote_known",
		"Whether the UDP transport knows where to send datagrams",
		map[string]string{"local": conn.LocalAddr().String()},
	)
	if t.remote != nil {
		t.remoteKnown.Set(1)
	} else {
		t.remoteKnown.Set(0)
	}
	// Set under the lock so a concurrent Stop always sees the read loop it has
	// to cancel and wait for.
	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.wg.Add(1)
	t.mu.Unlock()

	t.logger.WithFields(map[string]interface{}{
		"local":  conn.LocalAddr().String(),
		"remote": t.remoteString(),
	}).Info("UDP transport started")

	go t.readLoop(ctx, conn)

	return nil
}

// Stop closes the socket and waits for the read loop to exit. It is safe to
// call more than once.
func (t *UDPTransport) Stop() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	cancel := t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	t.wg.Wait()

	t.logger.Info("UDP transport stopped")
	return err
}

// Send writes one datagram to the peer. Both kinds share the socket.
func (t *UDPTransport) Send(kind rtprtcp.DataKind, data []byte) error {
	t.mu.RLock()
	conn, remote, closed := t.conn, t.remote, t.closed
	t.mu.RUnlock()

	switch {
	case closed:
		return ErrClosed
	case conn == nil:
		return fmt.Errorf("transport not started")
	case remote == nil:
		return ErrNoRemote
	}

	n, err := conn.WriteToUDP(data, remote)
	if err != nil {
		metrics.IncrementTransportError("write")
		return fmt.Errorf("failed to write %s datagram: %w", kind, err)
	}
	metrics.RecordTransportWrite(n)
	return nil
}

// LocalAddr returns the bound address, or nil before Start.
func (t *UDPTransport) LocalAddr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// RemoteAddr returns the peer address, or nil while it is unknown.
func (t *UDPTransport) RemoteAddr() *net.UDPAddr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.remote
}

func (t *UDPTransport) remoteString() string {
	if r := t.RemoteAddr(); r != nil {
		return r.String()
	}
	return "learned"
}

func (t *UDPTransport) readLoop(ctx context.Context, conn *net.UDPConn) {
	defer t.wg.Done()
	metrics.IncrementGoroutineCreated("udp_transport")
	defer metrics.IncrementGoroutineDestroyed("udp_transport")

	buf := make([]byte, t.cfg.MaxDatagramSize)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout)); err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
		}

		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			metrics.IncrementTransportError("read")
			t.sampled.WarnWithCategory(logger.CategoryTransport, "Failed to read datagram", map[string]interface{}{
				"error": err.Error(),
			})
			continue
		}
		metrics.RecordTransportRead(n)

		if t.limiter != nil && !t.limiter.Allow() {
			metrics.IncrementTransportRateLimited()
			t.sampled.WarnWithCategory(logger.CategoryTransport, "Inbound datagram rate limited", map[string]interface{}{
				"remote": addr.String(),
			})
			continue
		}

		t.learnRemote(addr)

		data := make([]byte, n)
		copy(data, buf[:n])
		if err := t.handler(data); err != nil {
			t.sampled.DebugWithCategory(logger.CategoryPacketProcessing, "Datagram rejected", map[string]interface{}{
				"remote": addr.String(),
				"error":  err.Error(),
			})
		}
	}
}

// learnRemote latches the first peer seen unless a fixed remote is set.
func (t *UDPTransport) learnRemote(addr *net.UDPAddr) {
	if t.fixedRemote {
		return
	}
	t.mu.RLock()
	known := t.remote != nil
	t.mu.RUnlock()
	if known {
		return
	}

	t.mu.Lock()
	if t.remote == nil {
		t.remote = addr
		t.remoteKnown.Set(1)
		t.logger.WithField("remote", addr.String()).Info("Learned remote peer")
	}
	t.mu.Unlock()
}
