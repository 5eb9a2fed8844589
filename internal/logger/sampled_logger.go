package logger

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Log categories used on the node hot paths.
const (
	CategoryPacketProcessing  = "packet_processing"
	CategoryMalformedInput    = "malformed_input"
	CategoryUnregisteredRoute = "unregistered_route"
	CategoryJitterBuffer      = "jitter_buffer"
	CategoryLifecycle         = "lifecycle"
	CategoryTransport         = "transport"
)

// SamplerConfig controls how often one category may log.
type SamplerConfig struct {
	// MaxFrequency is the interval after which the burst allowance refills.
	MaxFrequency time.Duration
	// BurstAllowance messages pass inside one interval before sampling starts.
	BurstAllowance int
	// SampleRate is the fraction of messages logged once the burst is spent.
	SampleRate float64
}

// SampledLogger rate-limits logging per category so that a flood of bad
// datagrams cannot flood the log.
type SampledLogger struct {
	base     Logger
	samplers *samplerSet
}

type samplerSet struct {
	mu    sync.RWMutex
	byCat map[string]*sampler
	now   func() time.Time
}

type sampler struct {
	cfg SamplerConfig

	lastLogTime  int64 // unix nanos, atomic
	burstCounter int64
	sampleCount  int64

	total   int64
	logged  int64
	dropped int64
}

// NewSampledLogger creates a sampled logger with no categories configured.
// Unconfigured categories always log.
func NewSampledLogger(base Logger) *SampledLogger {
	if base == nil {
		base = NewNullLogger()
	}
	return &SampledLogger{
		base: base,
		samplers: &samplerSet{
			byCat: make(map[string]*sampler),
			now:   time.Now,
		},
	}
}

// WithSampler configures sampling for a category.
func (s *SampledLogger) WithSampler(category string, cfg SamplerConfig) *SampledLogger {
	s.samplers.mu.Lock()
	s.samplers.byCat[category] = &sampler{cfg: cfg}
	s.samplers.mu.Unlock()
	return s
}

// NewPacketLogger returns a sampled logger tuned for per-datagram events.
func NewPacketLogger(base Logger) *SampledLogger {
	return NewSampledLogger(base).
		WithSampler(CategoryPacketProcessing, SamplerConfig{MaxFrequency: 50 * time.Millisecond, BurstAllowance: 10, SampleRate: 0.05}).
		WithSampler(CategoryMalformedInput, SamplerConfig{MaxFrequency: 200 * time.Millisecond, BurstAllowance: 5, SampleRate: 0.1}).
		WithSampler(CategoryUnregisteredRoute, SamplerConfig{MaxFrequency: time.Second, BurstAllowance: 3, SampleRate: 0.01}).
		WithSampler(CategoryJitterBuffer, SamplerConfig{MaxFrequency: 200 * time.Millisecond, BurstAllowance: 3, SampleRate: 0.2}).
		WithSampler(CategoryTransport, SamplerConfig{MaxFrequency: 500 * time.Millisecond, BurstAllowance: 3, SampleRate: 1.0})
	// CategoryLifecycle is rare and always logs.
}

func (s *SampledLogger) lookup(category string) *sampler {
	s.samplers.mu.RLock()
	defer s.samplers.mu.RUnlock()
	return s.samplers.byCat[category]
}

func (s *SampledLogger) shouldLog(category string) bool {
	sm := s.lookup(category)
	if sm == nil {
		return true
	}

	now := s.samplers.now().UnixNano()
	atomic.AddInt64(&sm.total, 1)

	if now-atomic.LoadInt64(&sm.lastLogTime) >= sm.cfg.MaxFrequency.Nanoseconds() {
		atomic.StoreInt64(&sm.burstCounter, 1)
		atomic.StoreInt64(&sm.lastLogTime, now)
		atomic.AddInt64(&sm.logged, 1)
		return true
	}

	if atomic.AddInt64(&sm.burstCounter, 1) <= int64(sm.cfg.BurstAllowance) {
		atomic.StoreInt64(&sm.lastLogTime, now)
		atomic.AddInt64(&sm.logged, 1)
		return true
	}

	if sm.cfg.SampleRate > 0 {
		n := atomic.AddInt64(&sm.sampleCount, 1)
		if float64(n)*sm.cfg.SampleRate >= 1.0 {
			atomic.StoreInt64(&sm.sampleCount, 0)
			atomic.AddInt64(&sm.logged, 1)
			return true
		}
	}

	atomic.AddInt64(&sm.dropped, 1)
	return false
}

// CategoryLog logs msg at level if the category's sampler lets it through.
func (s *SampledLogger) CategoryLog(level logrus.Level, category, msg string, fields map[string]interface{}) {
	if !s.shouldLog(category) {
		return
	}
	s.emit(level, category, msg, fields)
}

func (s *SampledLogger) emit(level logrus.Level, category, msg string, fields map[string]interface{}) {
	out := make(map[string]interface{}, len(fields)+4)
	for k, v := range fields {
		out[k] = v
	}
	out["category"] = category
	if sm := s.lookup(category); sm != nil {
		if dropped := atomic.LoadInt64(&sm.dropped); dropped > 0 {
			out["_sampling_dropped"] = dropped
			out["_sampling_total"] = atomic.LoadInt64(&sm.total)
		}
	}
	s.base.WithFields(out).Log(level, msg)
}

func (s *SampledLogger) DebugWithCategory(category, msg string, fields map[string]interface{}) {
	s.CategoryLog(logrus.DebugLevel, category, msg, fields)
}

func (s *SampledLogger) InfoWithCategory(category, msg string, fields map[string]interface{}) {
	s.CategoryLog(logrus.InfoLevel, category, msg, fields)
}

func (s *SampledLogger) WarnWithCategory(category, msg string, fields map[string]interface{}) {
	s.CategoryLog(logrus.WarnLevel, category, msg, fields)
}

// ErrorWithCategory is sampled as well; an attacker controls how many
// unroutable packets arrive.
func (s *SampledLogger) ErrorWithCategory(category, msg string, fields map[string]interface{}) {
	s.CategoryLog(logrus.ErrorLevel, category, msg, fields)
}

// SamplerStats holds statistics for a log sampler
type SamplerStats struct {
	Category        string  `json:"category"`
	TotalMessages   int64   `json:"total_messages"`
	LoggedMessages  int64   `json:"logged_messages"`
	DroppedMessages int64   `json:"dropped_messages"`
	LoggedRatio     float64 `json:"logged_ratio"`
}

// Stats returns statistics for all configured categories.
func (s *SampledLogger) Stats() map[string]SamplerStats {
	s.samplers.mu.RLock()
	defer s.samplers.mu.RUnlock()

	stats := make(map[string]SamplerStats, len(s.samplers.byCat))
	for cat, sm := range s.samplers.byCat {
		st := SamplerStats{
			Category:        cat,
			TotalMessages:   atomic.LoadInt64(&sm.total),
			LoggedMessages:  atomic.LoadInt64(&sm.logged),
			DroppedMessages: atomic.LoadInt64(&sm.dropped),
		}
		if st.TotalMessages > 0 {
			st.LoggedRatio = float64(st.LoggedMessages) / float64(st.TotalMessages)
		}
		stats[cat] = st
	}
	return stats
}

func (s *SampledLogger) derive(base Logger) *SampledLogger {
	return &SampledLogger{base: base, samplers: s.samplers}
}

// Logger interface. Derived loggers share sampler state.

func (s *SampledLogger) WithFields(fields map[string]interface{}) Logger {
	return s.derive(s.base.WithFields(fields))
}

func (s *SampledLogger) WithField(key string, value interface{}) Logger {
	return s.derive(s.base.WithField(key, value))
}

func (s *SampledLogger) WithError(err error) Logger {
	return s.derive(s.base.WithError(err))
}

func (s *SampledLogger) Debug(args ...interface{}) { s.base.Debug(args...) }
func (s *SampledLogger) Info(args ...interface{}) { s.base.Info(args...) }
func (s *SampledLogger) Warn(args ...interface{}) { s.base.Warn(args...) }
func (s *SampledLogger) Error(args ...interface{}) { s.base.Error(args...) }
func (s *SampledLogger) Log(level logrus.Level, args ...interface{}) { s.base.Log(level, args...) }
func (s *SampledLogger) Debugf(format string, args ...interface{}) { s.base.Debugf(format, args...) }
func (s *SampledLogger) Infof(format string, args ...interface{}) { s.base.Infof(format, args...) }
func (s *SampledLogger) Warnf(format string, args ...interface{}) { s.base.Warnf(format, args...) }
func (s *SampledLogger) Errorf(format string, args ...interface{}) { s.base.Errorf(format, args...) }
