package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. RTPNODE_TRANSPORT_PORT.
const EnvPrefix = "RTPNODE"

type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Server    ServerConfig    `mapstructure:"server"`
	Transport TransportConfig `mapstructure:"transport"`
	Node      NodeConfig      `mapstructure:"node"`
	Tracks    []TrackConfig   `mapstructure:"tracks"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`   // json or text
	Output     string `mapstructure:"output"`   // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// ServerConfig configures the admin HTTP API.
type ServerConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	ListenAddr      string        `mapstructure:"listen_addr"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// TransportConfig configures the UDP socket carrying both RTP and RTCP.
type TransportConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	Port       int    `mapstructure:"port"`
	// RemoteAddr pins the peer. When empty the peer is learned from the
	// first inbound datagram.
	RemoteAddr      string        `mapstructure:"remote_addr"`
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	MaxDatagramSize int           `mapstructure:"max_datagram_size"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	RateLimit       float64       `mapstructure:"rate_limit"` // datagrams per second, 0 disables
	RateBurst       int           `mapstructure:"rate_burst"`
}

type NodeConfig struct {
	ReceiverReportInterval time.Duration `mapstructure:"receiver_report_interval"`
	// ReceiverSSRC is the SSRC of generated receiver reports and FIRs. Zero
	// picks a random one.
	ReceiverSSRC uint32       `mapstructure:"receiver_ssrc"`
	NTPMode      string       `mapstructure:"ntp_mode"` // media_clock or wall_clock
	Jitter       JitterConfig `mapstructure:"jitter"`
}

type JitterConfig struct {
	MaxPackets int `mapstructure:"max_packets"`
	MaxReorder int `mapstructure:"max_reorder"`
}

// TrackConfig registers one payload type. A track is received when Format
// is set and gets a sender report scheduler when SendReports is true.
type TrackConfig struct {
	PayloadType uint8  `mapstructure:"payload_type"`
	Format      string `mapstructure:"format"`
	ClockRate   uint32 `mapstructure:"clock_rate"`
	SenderSSRC  uint32 `mapstructure:"sender_ssrc"`
	SendReports bool   `mapstructure:"send_reports"`
}

// Load reads configPath, applies RTPNODE_* environment overrides and
// validates the result. An empty path loads defaults and environment only.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)

	// Admin server defaults
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen_addr", "127.0.0.1")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("server.request_timeout", "5s")

	// Transport defaults
	v.SetDefault("transport.listen_addr", "0.0.0.0")
	v.SetDefault("transport.port", 5004)
	v.SetDefault("transport.remote_addr", "")
	v.SetDefault("transport.read_buffer_size", 2097152) // 2MB
	v.SetDefault("transport.max_datagram_size", 1500)
	v.SetDefault("transport.read_timeout", "1s")
	v.SetDefault("transport.rate_limit", 20000)
	v.SetDefault("transport.rate_burst", 2000)

	// Node defaults
	v.SetDefault("node.receiver_report_interval", "500ms")
	v.SetDefault("node.receiver_ssrc", 0)
	v.SetDefault("node.ntp_mode", "media_clock")
	v.SetDefault("node.jitter.max_packets", 512)
	v.SetDefault("node.jitter.max_reorder", 32)
}
