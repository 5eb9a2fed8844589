package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/rtpnode/internal/config"
	"github.com/zsiec/rtpnode/internal/errors"
	"github.com/zsiec/rtpnode/internal/health"
	"github.com/zsiec/rtpnode/internal/logger"
	"github.com/zsiec/rtpnode/internal/rtprtcp"
)

type fakeNode struct {
	mu       sync.Mutex
	state    rtprtcp.State
	snapshot rtprtcp.NodeSnapshot
	firErr   error
	firs     []uint32
	panicOn  bool
}

func (f *fakeNode) State() rtprtcp.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeNode) Snapshot() rtprtcp.NodeSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicOn {
		panic("snapshot exploded")
	}
	return f.snapshot
}

func (f *fakeNode) SendFIR(ssrc uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.firs = append(f.firs, ssrc)
	return f.firErr
}

func testServerConfig() *config.ServerConfig {
	return &config.ServerConfig{
		Enabled:         true,
		ListenAddr:      "127.0.0.1",
		Port:            0,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		ShutdownTimeout: time.Second,
		RequestTimeout:  time.Second,
	}
}

func newTestServer(t *testing.T, node NodeAPI) (*Server, *test.Hook) {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	return New(testServerConfig(), node, log), hook
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func TestHealth(t *testing.T) {
	node := &fakeNode{state: rtprtcp.StateReady}
	s, _ := newTestServer(t, node)

	rr := do(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.JSONEq(t, `{"status":"unavailable","state":"ready"}`, rr.Body.String())

	node.mu.Lock()
	node.state = rtprtcp.StateStarted
	node.mu.Unlock()

	rr = do(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok","state":"started"}`, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get(logger.RequestIDHeader))
}

type stubChecker struct{ err error }

func (c stubChecker) Name() string { return "transport" }
func (c stubChecker) Check(ctx context.Context) error { return c.err }

func TestReady(t *testing.T) {
	log, _ := test.NewNullLogger()
	node := &fakeNode{state: rtprtcp.StateStarted}
	s := New(testServerConfig(), node, log, stubChecker{err: fmt.Errorf("no peer: %w", health.ErrDegraded)})

	rr := do(t, s, http.MethodGet, "/ready")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp health.Response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, health.StatusDegraded, resp.Status)
	assert.Equal(t, health.StatusOK, resp.Checks["node"].Status)
	assert.Equal(t, health.StatusDegraded, resp.Checks["transport"].Status)

	node.mu.Lock()
	node.state = rtprtcp.StateStopped
	node.mu.Unlock()

	rr = do(t, s, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = do(t, s, http.MethodGet, "/live")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestVersion(t *testing.T) {
	s, _ := newTestServer(t, &fakeNode{})

	rr := do(t, s, http.MethodGet, "/version")
	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Contains(t, body, "version")
	assert.Equal(t, "public, max-age=3600", rr.Header().Get("Cache-Control"))
}

func TestNodeSnapshot(t *testing.T) {
	node := &fakeNode{snapshot: rtprtcp.NodeSnapshot{
		ID:           "node-1",
		State:        "started",
		ReceiverSSRC: 7,
		Sources:      []rtprtcp.SourceStats{{SSRC: 0x1234, PayloadType: 96, PacketsReceived: 10}},
	}}
	s, _ := newTestServer(t, node)

	rr := do(t, s, http.MethodGet, "/api/v1/node")
	require.Equal(t, http.StatusOK, rr.Code)

	var snap rtprtcp.NodeSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, "node-1", snap.ID)
	require.Len(t, snap.Sources, 1)
	assert.Equal(t, uint64(10), snap.Sources[0].PacketsReceived)

	rr = do(t, s, http.MethodGet, "/api/v1/node/sources/0x1234")
	require.Equal(t, http.StatusOK, rr.Code)
	rr = do(t, s, http.MethodGet, "/api/v1/node/sources/99")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSendFIR(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		firErr error
		status int
		typ    errors.ErrorType
	}{
		{"accepted", "/api/v1/node/sources/4660/fir", nil, http.StatusAccepted, ""},
		{"hex ssrc", "/api/v1/node/sources/0x1234/fir", nil, http.StatusAccepted, ""},
		{"bad ssrc", "/api/v1/node/sources/banana/fir", nil, http.StatusBadRequest, errors.ErrorTypeValidation},
		{"ssrc overflow", "/api/v1/node/sources/4294967296/fir", nil, http.StatusBadRequest, errors.ErrorTypeValidation},
		{"unknown source", "/api/v1/node/sources/1/fir", fmt.Errorf("%w: 0x00000001", rtprtcp.ErrUnknownSSRC), http.StatusNotFound, errors.ErrorTypeNotFound},
		{"not started", "/api/v1/node/sources/1/fir", rtprtcp.ErrNotStarted, http.StatusServiceUnavailable, errors.ErrorTypeServiceDown},
		{"transport down", "/api/v1/node/sources/1/fir", rtprtcp.ErrTransportUnavailable, http.StatusBadGateway, errors.ErrorTypeUpstream},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(t, &fakeNode{firErr: tt.firErr})
			rr := do(t, s, http.MethodPost, tt.path)
			assert.Equal(t, tt.status, rr.Code)
			if tt.typ == "" {
				return
			}
			var resp errors.ErrorResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.typ, resp.Error.Type)
			assert.NotEmpty(t, resp.TraceID)
		})
	}
}

func TestFIRRequiresPost(t *testing.T) {
	s, _ := newTestServer(t, &fakeNode{})
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, s, http.MethodGet, "/api/v1/node/sources/1/fir").Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/v1/streams").Code)
}

func TestRecoversHandlerPanic(t *testing.T) {
	s, hook := newTestServer(t, &fakeNode{panicOn: true})

	rr := do(t, s, http.MethodGet, "/api/v1/node")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	var found bool
	for _, e := range hook.AllEntries() {
		if e.Message == "Panic recovered in HTTP handler" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRequestCompletedLog(t *testing.T) {
	s, hook := newTestServer(t, &fakeNode{})
	do(t, s, http.MethodGet, "/api/v1/node/sources/1")

	var entry *logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Message == "Request completed" {
			entry = e
		}
	}
	require.NotNil(t, entry)
	assert.Equal(t, http.StatusNotFound, entry.Data["status"])
	assert.Equal(t, "/api/v1/node/sources/1", entry.Data["path"])
}

type captureTransport struct {
	mu      sync.Mutex
	packets [][]byte
}

func (c *captureTransport) Send(kind rtprtcp.DataKind, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if kind == rtprtcp.DataRTCP {
		c.packets = append(c.packets, append([]byte(nil), data...))
	}
	return nil
}

func TestSendFIR_RealNode(t *testing.T) {
	lower := &captureTransport{}
	node := rtprtcp.NewNode(rtprtcp.Config{ReceiverSSRC: 0xabcdef01, ReceiverReportInterval: time.Hour}, nil, nil)
	require.NoError(t, node.Prepare(lower))
	require.NoError(t, node.AddReceiver(96, &rtprtcp.Track{PayloadType: 96, Format: rtprtcp.FormatH264RFC6184, ClockRate: 90000}))
	require.NoError(t, node.Start())
	defer node.Stop()

	pkt := &rtp.Packet{Header: rtp.Header{Version: 2, PayloadType: 96, SSRC: 0x1234, SequenceNumber: 1, Marker: true}, Payload: []byte{1, 2, 3}}
	data, err := pkt.Marshal()
	require.NoError(t, err)
	require.NoError(t, node.OnDatagram(data))

	s, _ := newTestServer(t, node)
	rr := do(t, s, http.MethodPost, "/api/v1/node/sources/0x1234/fir")
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.JSONEq(t, `{"ssrc":4660,"fir_requests_sent":1}`, rr.Body.String())

	lower.mu.Lock()
	defer lower.mu.Unlock()
	require.NotEmpty(t, lower.packets)
	decoded, err := rtcp.Unmarshal(lower.packets[len(lower.packets)-1])
	require.NoError(t, err)
	fir, ok := decoded[0].(*rtcp.FullIntraRequest)
	require.True(t, ok)
	assert.Equal(t, uint32(0xabcdef01), fir.SenderSSRC)
	require.Len(t, fir.FIR, 1)
	assert.Equal(t, uint32(0x1234), fir.FIR[0].SSRC)
}

func TestStartAndShutdown(t *testing.T) {
	s, _ := newTestServer(t, &fakeNode{state: rtprtcp.StateStarted})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool { return s.Addr() != nil }, time.Second, 5*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not shut down")
	}
}
