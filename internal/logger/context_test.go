package logger

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextLogger(t *testing.T) {
	entry := logrus.New().WithField("node_id", "n1")

	ctx := WithLogger(context.Background(), entry)
	assert.Equal(t, "n1", FromContext(ctx).Data["node_id"])

	assert.NotNil(t, FromContext(context.Background()))
}

func TestContextRequestID(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	assert.Equal(t, "req-123", GetRequestID(ctx))
	assert.Empty(t, GetRequestID(context.Background()))
}

func TestWithRequest(t *testing.T) {
	logger := logrus.New()

	t.Run("existing request ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/node", nil)
		req.Header.Set(RequestIDHeader, "existing-id")
		req.Header.Set("User-Agent", "curl/8")

		entry := WithRequest(logger, req)
		assert.Equal(t, "existing-id", entry.Data["request_id"])
		assert.Equal(t, http.MethodGet, entry.Data["method"])
		assert.Equal(t, "/api/v1/node", entry.Data["path"])
		assert.Equal(t, "curl/8", entry.Data["user_agent"])
	})

	t.Run("assigns request ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/node/sources/1/fir", nil)

		entry := WithRequest(logger, req)
		id, ok := entry.Data["request_id"].(string)
		require.True(t, ok)
		assert.NotEmpty(t, id)
		assert.Equal(t, id, req.Header.Get(RequestIDHeader))
	})
}

func TestRequestLoggerMiddleware(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(&discard{})

	var seenID string
	handler := RequestLoggerMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenID = GetRequestID(r.Context())
		assert.Equal(t, seenID, FromContext(r.Context()).Data["request_id"])
		w.WriteHeader(http.StatusNoContent)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.NotEmpty(t, seenID)
	assert.Equal(t, seenID, rr.Header().Get(RequestIDHeader))
}

func TestResponseWriter(t *testing.T) {
	rw := NewResponseWriter(httptest.NewRecorder())
	assert.Equal(t, http.StatusOK, rw.StatusCode())

	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusBadRequest)
	assert.Equal(t, http.StatusCreated, rw.StatusCode())

	n, err := rw.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	_, err = rw.Write([]byte(" world"))
	require.NoError(t, err)
	assert.Equal(t, 11, rw.BytesWritten())
}

func TestResponseWriter_ImplicitOK(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	_, err := rw.Write([]byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, rw.StatusCode())
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetRemoteIP(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		expected string
	}{
		{"forwarded single", map[string]string{"X-Forwarded-For": "192.168.1.1"}, "192.168.1.1"},
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "192.168.1.2"}, "192.168.1.2"},
		{"remote addr", map[string]string{}, "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = "192.0.2.1:1234"
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, getRemoteIP(req))
		})
	}
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
