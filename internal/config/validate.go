package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// supportedFormats lists the track format names the node accepts.
var supportedFormats = map[string]bool{
	"h264": true, "h264_rtp_rfc_6184": true,
	"vp8": true, "vp8_rtp_rfc_7741": true,
	"aac": true, "aac_mpeg4_generic": true,
	"opus": true, "opus_rtp_rfc_7587": true,
}

func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}

	if err := c.Node.Validate(); err != nil {
		return fmt.Errorf("node config: %w", err)
	}

	seen := make(map[uint8]bool, len(c.Tracks))
	for i := range c.Tracks {
		t := &c.Tracks[i]
		if err := t.Validate(); err != nil {
			return fmt.Errorf("tracks[%d]: %w", i, err)
		}
		if seen[t.PayloadType] {
			return fmt.Errorf("tracks[%d]: duplicate payload type %d", i, t.PayloadType)
		}
		seen[t.PayloadType] = true
	}

	if c.Metrics.Enabled && c.Server.Enabled && c.Metrics.Port == c.Server.Port {
		return fmt.Errorf("metrics and admin server cannot share port %d", c.Server.Port)
	}

	return nil
}

func (l *LoggingConfig) Validate() error {
	if _, err := logrus.ParseLevel(l.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("log format must be 'json' or 'text'")
	}

	if l.Output != "stdout" && l.Output != "stderr" && l.Output != "" {
		if l.MaxSize <= 0 {
			return fmt.Errorf("max_size must be positive for file output")
		}
		if l.MaxBackups < 0 {
			return fmt.Errorf("max_backups cannot be negative")
		}
		if l.MaxAge < 0 {
			return fmt.Errorf("max_age cannot be negative")
		}
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if !m.Enabled {
		return nil
	}
	if m.Port < 1 || m.Port > 65535 {
		return fmt.Errorf("invalid metrics port: %d", m.Port)
	}
	if !strings.HasPrefix(m.Path, "/") {
		return fmt.Errorf("metrics path must start with '/'")
	}
	return nil
}

func (s *ServerConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("invalid admin port: %d", s.Port)
	}
	if s.ReadTimeout <= 0 || s.WriteTimeout <= 0 {
		return fmt.Errorf("read_timeout and write_timeout must be positive")
	}
	if s.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if s.RequestTimeout < 0 {
		return fmt.Errorf("request_timeout cannot be negative")
	}
	return nil
}

func (t *TransportConfig) Validate() error {
	if t.Port < 0 || t.Port > 65535 {
		return fmt.Errorf("invalid transport port: %d", t.Port)
	}
	if net.ParseIP(t.ListenAddr) == nil {
		return fmt.Errorf("invalid listen address: %q", t.ListenAddr)
	}
	if t.RemoteAddr != "" {
		if _, _, err := net.SplitHostPort(t.RemoteAddr); err != nil {
			return fmt.Errorf("invalid remote address %q: %w", t.RemoteAddr, err)
		}
	}
	if t.ReadBufferSize < 0 {
		return fmt.Errorf("read_buffer_size cannot be negative")
	}
	// 12 bytes is the smallest RTP packet
	if t.MaxDatagramSize < 12 || t.MaxDatagramSize > 65535 {
		return fmt.Errorf("max_datagram_size must be between 12 and 65535")
	}
	if t.ReadTimeout <= 0 {
		return fmt.Errorf("read_timeout must be positive")
	}
	if t.RateLimit < 0 {
		return fmt.Errorf("rate_limit cannot be negative")
	}
	if t.RateLimit > 0 && t.RateBurst < 1 {
		return fmt.Errorf("rate_burst must be positive when rate_limit is set")
	}
	return nil
}

func (n *NodeConfig) Validate() error {
	if n.ReceiverReportInterval < 10*time.Millisecond {
		return fmt.Errorf("receiver_report_interval must be at least 10ms")
	}
	if n.NTPMode != "media_clock" && n.NTPMode != "wall_clock" {
		return fmt.Errorf("ntp_mode must be 'media_clock' or 'wall_clock'")
	}
	if n.Jitter.MaxPackets < 1 {
		return fmt.Errorf("jitter.max_packets must be positive")
	}
	if n.Jitter.MaxReorder < 1 || n.Jitter.MaxReorder > n.Jitter.MaxPackets {
		return fmt.Errorf("jitter.max_reorder must be between 1 and max_packets")
	}
	return nil
}

func (t *TrackConfig) Validate() error {
	// 72-79 collide with RTCP packet types on a muxed socket (RFC 5761)
	if t.PayloadType > 127 || (t.PayloadType >= 72 && t.PayloadType <= 79) {
		return fmt.Errorf("invalid payload type: %d", t.PayloadType)
	}
	if t.ClockRate == 0 {
		return fmt.Errorf("clock_rate must be positive")
	}
	if t.Format == "" && !t.SendReports {
		return fmt.Errorf("track must either receive (format) or send reports")
	}
	if t.Format != "" && !supportedFormats[strings.ToLower(strings.TrimSpace(t.Format))] {
		return fmt.Errorf("unsupported format: %q", t.Format)
	}
	if t.SendReports && t.SenderSSRC == 0 {
		return fmt.Errorf("sender_ssrc is required when send_reports is set")
	}
	return nil
}
