package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zsiec/rtpnode/internal/errors"
	"github.com/zsiec/rtpnode/internal/logger"
)

var (
	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rtpnode_http_request_duration_seconds",
		Help:    "Duration of admin API requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rtpnode_http_requests_total",
		Help: "Total number of admin API requests",
	}, []string{"method", "route", "status"})

	httpRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rtpnode_http_requests_in_flight",
		Help: "Number of admin API requests currently being processed",
	})
)

// routeLabel returns the matched route template so that path parameters do
// not explode label cardinality.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// metricsMiddleware tracks request metrics and logs completion.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		rw := logger.NewResponseWriter(w)
		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		status := strconv.Itoa(rw.StatusCode())
		route := routeLabel(r)

		httpRequestDuration.WithLabelValues(r.Method, route, status).Observe(duration.Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, status).Inc()

		entry := logger.FromContext(r.Context()).WithFields(logger.Fields{
			"status":      rw.StatusCode(),
			"duration_ms": float64(duration.Microseconds()) / 1000,
			"bytes":       rw.BytesWritten(),
		})
		if isProbe(route) {
			entry.Debug("Request completed")
			return
		}
		entry.Info("Request completed")
	})
}

// recoveryMiddleware recovers from panics
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.errorHandler.HandlePanic(w, r, err)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// timeoutMiddleware bounds handler run time. Timed out requests get a JSON
// TIMEOUT error body.
func (s *Server) timeoutMiddleware(timeout time.Duration) func(http.Handler) http.Handler {
	body := `{"error":{"type":"` + string(errors.ErrorTypeTimeout) + `","message":"Request timeout"}}`
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, body)
	}
}

// isProbe reports whether route is polled by orchestrators and should log quietly.
func isProbe(route string) bool {
	switch route {
	case "/health", "/ready", "/live":
		return true
	}
	return false
}
