package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedLogrus(t *testing.T) (*logrus.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	l := logrus.New()
	l.SetOutput(&buf)
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(logrus.DebugLevel)
	return l, &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(line, &entry))
		out = append(out, entry)
	}
	return out
}

func TestLogrusAdapter_Fields(t *testing.T) {
	l, buf := newBufferedLogrus(t)
	adapter := FromLogrus(l)

	adapter.WithFields(map[string]interface{}{
		"payload_type": 96,
		"component":    "rtp_node",
	}).WithField("ssrc", "0x00001234").Info("packet accepted")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "packet accepted", lines[0]["msg"])
	assert.Equal(t, float64(96), lines[0]["payload_type"])
	assert.Equal(t, "rtp_node", lines[0]["component"])
	assert.Equal(t, "0x00001234", lines[0]["ssrc"])
}

func TestLogrusAdapter_WithError(t *testing.T) {
	l, buf := newBufferedLogrus(t)
	NewLogrusAdapter(logrus.NewEntry(l)).WithError(errors.New("socket closed")).Warn("send failed")

	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "socket closed", lines[0]["error"])
	assert.Equal(t, "warning", lines[0]["level"])
}

func TestLogrusAdapter_Levels(t *testing.T) {
	l, buf := newBufferedLogrus(t)
	l.SetLevel(logrus.InfoLevel)
	adapter := FromLogrus(l)

	adapter.Debug("hidden")
	adapter.Debugf("hidden %d", 1)
	adapter.Info("info")
	adapter.Warnf("warn %d", 2)
	adapter.Errorf("error %s", "three")
	adapter.Log(logrus.ErrorLevel, "logged")

	var msgs []string
	for _, line := range decodeLines(t, buf) {
		msgs = append(msgs, line["msg"].(string))
	}
	assert.Equal(t, []string{"info", "warn 2", "error three", "logged"}, msgs)
}

func TestLogrusAdapter_ChildDoesNotModifyParent(t *testing.T) {
	l, buf := newBufferedLogrus(t)
	parent := FromLogrus(l).WithField("node_id", "a")
	_ = parent.WithField("extra", true)

	parent.Info("parent")
	lines := decodeLines(t, buf)
	require.Len(t, lines, 1)
	assert.NotContains(t, lines[0], "extra")
	assert.Equal(t, "a", lines[0]["node_id"])
}

func TestNullLogger(t *testing.T) {
	l := NewNullLogger()
	assert.NotPanics(t, func() {
		l.WithField("a", 1).WithFields(map[string]interface{}{"b": 2}).WithError(errors.New("x")).Info("ignored")
		l.Debugf("%d", 1)
		l.Log(logrus.ErrorLevel, "ignored")
	})
}
