package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Gauge is a single registered gauge identified by its constant labels. It is
// used for per-instance values such as the state of one UDP socket.
type Gauge struct {
	gauge prometheus.Gauge
}

// NewGauge registers a gauge with the default registry. Registering the same
// name and labels twice returns the existing gauge.
func NewGauge(name, help string, labels map[string]string) *Gauge {
	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        name,
		Help:        help,
		ConstLabels: labels,
	})
	if err := prometheus.Register(gauge); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return &Gauge{gauge: existing}
			}
		}
		// For other errors, continue with an unregistered gauge
	}
	return &Gauge{gauge: gauge}
}

// Set sets the gauge to the given value
func (g *Gauge) Set(v float64) {
	g.gauge.Set(v)
}

// Inc increments the gauge by 1
func (g *Gauge) Inc() {
	g.gauge.Inc()
}

// Dec decrements the gauge by 1
func (g *Gauge) Dec() {
	g.gauge.Dec()
}
