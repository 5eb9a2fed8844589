package health

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zsiec/rtpnode/internal/rtprtcp"
)

type fixedState rtprtcp.State

func (s fixedState) State() rtprtcp.State { return rtprtcp.State(s) }

type fakeSocket struct {
	local  net.Addr
	remote *net.UDPAddr
}

func (s fakeSocket) LocalAddr() net.Addr { return s.local }
func (s fakeSocket) RemoteAddr() *net.UDPAddr { return s.remote }

func TestNodeChecker(t *testing.T) {
	tests := []struct {
		state   rtprtcp.State
		wantErr bool
	}{
		{rtprtcp.StateCreated, true},
		{rtprtcp.StateReady, true},
		{rtprtcp.StateStarted, false},
		{rtprtcp.StateStopped, true},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			c := NewNodeChecker(fixedState(tt.state))
			assert.Equal(t, "node", c.Name())
			err := c.Check(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.state.String())
				assert.False(t, errors.Is(err, ErrDegraded))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTransportChecker(t *testing.T) {
	local := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 5004}
	peer := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 6000}

	c := NewTransportChecker(fakeSocket{})
	assert.Equal(t, "transport", c.Name())
	err := c.Check(context.Background())
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrDegraded))

	err = NewTransportChecker(fakeSocket{local: local}).Check(context.Background())
	assert.True(t, errors.Is(err, ErrDegraded))
	assert.Contains(t, err.Error(), "127.0.0.1:5004")

	assert.NoError(t, NewTransportChecker(fakeSocket{local: local, remote: peer}).Check(context.Background()))
}
