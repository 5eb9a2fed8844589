package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/rtpnode/internal/config"
	"github.com/zsiec/rtpnode/internal/health"
	"github.com/zsiec/rtpnode/internal/logger"
	"github.com/zsiec/rtpnode/internal/server"
	"github.com/zsiec/rtpnode/internal/transport"
	"github.com/zsiec/rtpnode/pkg/version"
)

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "configs/default.yaml", "Path to configuration file (empty for defaults)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.WithField("version", version.GetInfo().Short()).Info("Starting RTP node")
	log.WithField("config_path", configPath).Debug("Configuration loaded")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Error("RTP node failed")
		os.Exit(1)
	}
	log.Info("RTP node shutdown complete")
}

// run wires the node to its transport and admin surfaces and blocks until
// ctx is done.
func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	base := logger.FromLogrus(log)

	node, err := buildNode(cfg, newLoggingObserver(base), base)
	if err != nil {
		return err
	}
	defer node.Stop()

	udp, err := transport.NewUDPTransport(cfg.Transport, node.OnDatagram, base)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}
	if err := prepareAndStart(node, udp, cfg.Tracks); err != nil {
		return err
	}
	if err := udp.Start(ctx); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	defer func() {
		if err := udp.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop transport cleanly")
		}
	}()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		metricsSrv = startMetricsServer(cfg.Metrics, log)
	}

	errCh := make(chan error, 1)
	if cfg.Server.Enabled {
		admin := server.New(&cfg.Server, node, log, health.NewTransportChecker(udp))
		go func() { errCh <- admin.Start(ctx) }()
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	case runErr = <-errCh:
	}

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("Failed to stop metrics server cleanly")
		}
	}

	if cfg.Server.Enabled && runErr == nil {
		// admin.Start returns once its graceful shutdown finished
		runErr = <-errCh
	}
	return runErr
}

// startMetricsServer starts the Prometheus metrics server
func startMetricsServer(cfg config.MetricsConfig, log *logrus.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.WithField("addr", srv.Addr).Info("Starting metrics server")

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("Metrics server error")
		}
	}()
	return srv
}
