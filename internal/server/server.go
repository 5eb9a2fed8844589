// Package server exposes the node's admin HTTP API.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/rtpnode/internal/config"
	"github.com/zsiec/rtpnode/internal/errors"
	"github.com/zsiec/rtpnode/internal/health"
	"github.com/zsiec/rtpnode/internal/logger"
	"github.com/zsiec/rtpnode/internal/rtprtcp"
)

// NodeAPI is the part of rtprtcp.Node the admin API drives.
type NodeAPI interface {
	State() rtprtcp.State
	Snapshot() rtprtcp.NodeSnapshot
	SendFIR(mediaSSRC uint32) error
}

// Server is the admin HTTP server.
type Server struct {
	config       *config.ServerConfig
	router       *mux.Router
	httpServer   *http.Server
	logger       *logrus.Logger
	node         NodeAPI
	errorHandler *errors.ErrorHandler
	health       *health.Handler

	routesOnce sync.Once
	mu         sync.Mutex
	listener   net.Listener
}

// New creates a new server instance. The node is always checked for
// readiness; extra checkers are appended after it.
func New(cfg *config.ServerConfig, node NodeAPI, log *logrus.Logger, checkers ...health.Checker) *Server {
	manager := health.NewManager(log)
	manager.Register(health.NewNodeChecker(node))
	for _, c := range checkers {
		manager.Register(c)
	}

	return &Server{
		config:       cfg,
		router:       mux.NewRouter(),
		logger:       log,
		node:         node,
		errorHandler: errors.NewErrorHandler(log),
		health:       health.NewHandler(manager),
	}
}

// Handler returns the fully configured router.
func (s *Server) Handler() http.Handler {
	s.routesOnce.Do(s.setupRoutes)
	return s.router
}

// Start listens on the configured address and serves until ctx is done, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.ListenAddr, s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.WithField("addr", ln.Addr().String()).Info("Starting admin server")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Addr returns the bound address once Start has been called.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown gracefully shuts down the server within the configured timeout.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	s.logger.Info("Shutting down admin server")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info("Admin server shutdown complete")
	return nil
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.recoveryMiddleware)
	s.router.Use(s.metricsMiddleware)
	if s.config.RequestTimeout > 0 {
		s.router.Use(s.timeoutMiddleware(s.config.RequestTimeout))
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.health.HandleReady).Methods(http.MethodGet)
	s.router.HandleFunc("/live", s.health.HandleLive).Methods(http.MethodGet)
	s.router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/node", s.handleNode).Methods(http.MethodGet)
	api.HandleFunc("/node/sources/{ssrc}", s.handleSource).Methods(http.MethodGet)
	api.HandleFunc("/node/sources/{ssrc}/fir", s.handleSendFIR).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.HandleMethodNotAllowed)
}
