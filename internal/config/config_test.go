package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rtpnode.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5004, cfg.Transport.Port)
	assert.Equal(t, 1500, cfg.Transport.MaxDatagramSize)
	assert.Equal(t, time.Second, cfg.Transport.ReadTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Node.ReceiverReportInterval)
	assert.Equal(t, "media_clock", cfg.Node.NTPMode)
	assert.Equal(t, 512, cfg.Node.Jitter.MaxPackets)
	assert.Equal(t, 32, cfg.Node.Jitter.MaxReorder)
	assert.Empty(t, cfg.Tracks)
}

func TestLoad_ShippedDefault(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "default.yaml"))
	require.NoError(t, err)

	require.Len(t, cfg.Tracks, 2)
	assert.Equal(t, uint8(96), cfg.Tracks[0].PayloadType)
	assert.Equal(t, "h264", cfg.Tracks[0].Format)
	assert.False(t, cfg.Tracks[0].SendReports)
	assert.Equal(t, uint32(755915281), cfg.Tracks[1].SenderSSRC)
	assert.True(t, cfg.Tracks[1].SendReports)
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout)
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: text
node:
  receiver_report_interval: 1s
  receiver_ssrc: 195939070
  ntp_mode: wall_clock
transport:
  port: 6004
  remote_addr: "198.51.100.4:6004"
tracks:
  - payload_type: 96
    format: h264
    clock_rate: 90000
    sender_ssrc: 4660
    send_reports: true
  - payload_type: 111
    format: opus
    clock_rate: 48000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, time.Second, cfg.Node.ReceiverReportInterval)
	assert.Equal(t, uint32(0x0badcafe), cfg.Node.ReceiverSSRC)
	assert.Equal(t, "wall_clock", cfg.Node.NTPMode)
	assert.Equal(t, 6004, cfg.Transport.Port)
	assert.Equal(t, "198.51.100.4:6004", cfg.Transport.RemoteAddr)

	require.Len(t, cfg.Tracks, 2)
	assert.Equal(t, TrackConfig{PayloadType: 96, Format: "h264", ClockRate: 90000, SenderSSRC: 0x1234, SendReports: true}, cfg.Tracks[0])
	assert.Equal(t, TrackConfig{PayloadType: 111, Format: "opus", ClockRate: 48000}, cfg.Tracks[1])
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("RTPNODE_TRANSPORT_PORT", "7004")
	t.Setenv("RTPNODE_NODE_RECEIVER_REPORT_INTERVAL", "250ms")
	t.Setenv("RTPNODE_LOGGING_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, "logging:\n  level: debug\n"))
	require.NoError(t, err)

	assert.Equal(t, 7004, cfg.Transport.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Node.ReceiverReportInterval)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")

	_, err = Load(writeConfig(t, "tracks:\n  - payload_type: 96\n    format: mjpeg\n    clock_rate: 90000\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tracks[0]: unsupported format")
}
