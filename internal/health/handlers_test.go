package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zsiec/rtpnode/pkg/version"
)

func TestHandleReady(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantCode   int
		wantStatus Status
	}{
		{"ok", nil, http.StatusOK, StatusOK},
		{"degraded", ErrDegraded, http.StatusOK, StatusDegraded},
		{"down", errors.New("node is stopped"), http.StatusServiceUnavailable, StatusDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			manager := NewManager(newTestLogger())
			manager.Register(&mockChecker{name: "node", err: tt.err})
			handler := NewHandler(manager)

			rr := httptest.NewRecorder()
			handler.HandleReady(rr, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantCode, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
			assert.Equal(t, "no-cache, no-store, must-revalidate", rr.Header().Get("Cache-Control"))

			var resp Response
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			assert.Equal(t, version.GetInfo().Version, resp.Version)
			assert.NotEmpty(t, resp.Uptime)
			require.Contains(t, resp.Checks, "node")
			assert.Equal(t, tt.wantStatus, resp.Checks["node"].Status)
		})
	}
}

func TestHandleLive(t *testing.T) {
	handler := NewHandler(NewManager(newTestLogger()))

	rr := httptest.NewRecorder()
	handler.HandleLive(rr, httptest.NewRequest(http.MethodGet, "/live", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "alive", resp["status"])
}
