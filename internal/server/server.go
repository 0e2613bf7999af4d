// Package server exposes a lattice over an HTTP JSON API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sanonone/lattice/pkg/config"
	"github.com/sanonone/lattice/pkg/lattice"
)

// Options configures the HTTP front end.
type Options struct {
	Addr      string
	AuthToken string
	RateLimit config.RateLimit
	Logger    *slog.Logger
}

// Server holds the HTTP interface and the lattice it serves.
type Server struct {
	Lattice *lattice.Manager

	httpServer *http.Server
	tasks      *TaskManager
	authToken  string
	limiter    *ipLimiter
	log        *slog.Logger
}

// NewServer wires the API around an open Manager. The Manager's lifecycle
// stays with the caller.
func NewServer(m *lattice.Manager, opts Options) *Server {
	s := &Server{
		Lattice:   m,
		tasks:     NewTaskManager(),
		authToken: opts.AuthToken,
		log:       opts.Logger,
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if opts.RateLimit.RequestsPerSecond > 0 {
		s.limiter = newIPLimiter(opts.RateLimit)
	}

	mux := http.NewServeMux()
	s.registerHTTPHandlers(mux)

	// Recovery -> Logging -> Gzip -> RateLimit -> Auth -> Mux
	var handler http.Handler = mux
	handler = s.AuthMiddleware(handler)
	handler = s.RateLimitMiddleware(handler)
	handler = gzhttp.GzipHandler(handler)
	handler = s.LoggingMiddleware(handler)
	handler = s.RecoveryMiddleware(handler)

	rootMux := http.NewServeMux()
	rootMux.HandleFunc("GET /healthz", s.handleHealthz)
	rootMux.Handle("GET /metrics", promhttp.Handler())
	rootMux.Handle("/", handler)

	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           rootMux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	s.log.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server startup failed: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server gracefully. It does not close the Manager.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Starting graceful shutdown of HTTP server")
	return s.httpServer.Shutdown(ctx)
}
