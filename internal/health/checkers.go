package health

import (
	"context"
	"fmt"
	"net"

	"github.com/zsiec/rtpnode/internal/rtprtcp"
)

// StateSource reports the lifecycle state of a node.
type StateSource interface {
	State() rtprtcp.State
}

// NodeChecker is ok only while the node is started.
type NodeChecker struct {
	node StateSource
}

// NewNodeChecker creates a checker for node.
func NewNodeChecker(node StateSource) *NodeChecker {
	return &NodeChecker{node: node}
}

func (c *NodeChecker) Name() string { return "node" }

func (c *NodeChecker) Check(ctx context.Context) error {
	if state := c.node.State(); state != rtprtcp.StateStarted {
		return fmt.Errorf("node is %s", state)
	}
	return nil
}

// SocketSource exposes the addressing state of a datagram transport.
type SocketSource interface {
	LocalAddr() net.Addr
	RemoteAddr() *net.UDPAddr
}

// TransportChecker is down while the socket is unbound and degraded until a
// peer address is known, since outbound RTCP has nowhere to go before then.
type TransportChecker struct {
	socket SocketSource
}

// NewTransportChecker creates a checker for socket.
func NewTransportChecker(socket SocketSource) *TransportChecker {
	return &TransportChecker{socket: socket}
}

func (c *TransportChecker) Name() string { return "transport" }

func (c *TransportChecker) Check(ctx context.Context) error {
	local := c.socket.LocalAddr()
	if local == nil {
		return fmt.Errorf("socket not bound")
	}
	if c.socket.RemoteAddr() == nil {
		return fmt.Errorf("no peer on %s: %w", local, ErrDegraded)
	}
	return nil
}
