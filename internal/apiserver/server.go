package apiserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/moolen/citadel/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
)

// ReadinessChecker reports whether the deployed tree is serving.
type ReadinessChecker interface {
	IsReady() bool
}

// ReadinessFunc adapts a func to ReadinessChecker.
type ReadinessFunc func() bool

func (f ReadinessFunc) IsReady() bool { return f() }

// Server exposes /metrics, /healthz and /readyz over HTTP.
type Server struct {
	addr             string
	gatherer         prometheus.Gatherer
	readinessChecker ReadinessChecker
	router           *http.ServeMux
	server           *http.Server
	logger           *logging.Logger

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

// New creates a server for addr. gatherer is scraped for /metrics and
// readiness may be nil (always ready).
func New(addr string, gatherer prometheus.Gatherer, readiness ReadinessChecker) *Server {
	s := &Server{
		addr:             addr,
		gatherer:         gatherer,
		readinessChecker: readiness,
		router:           http.NewServeMux(),
		logger:           logging.GetLogger("apiserver"),
	}
	s.registerHandlers()
	s.configureHTTPServer()
	return s
}

func (s *Server) configureHTTPServer() {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.observe(s.router),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Start binds the listen address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error: %v", err)
		}
	}()

	s.logger.Info("Serving metrics and health endpoints on %s", ln.Addr())
	return nil
}

// Stop gracefully shuts the server down within the ctx deadline.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP server shutdown: %v", err)
		return err
	}
	<-done
	s.logger.Info("HTTP server stopped")
	return nil
}

// Addr returns the bound address once started, or the configured one.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Name identifies the server as a kernel service.
func (s *Server) Name() string {
	return "http-server"
}
