// Package api serves a read-only view of a running pool over HTTP: health, the worker table
// as seen through the event stream, and the event stream itself as server-sent events.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/typepool/internal/events"
)

// Config holds API server configuration.
type Config struct {
	Listen string
	// KeepAlive is the SSE comment interval. Defaults to 15s.
	KeepAlive time.Duration
}

// Server represents the HTTP status server.
type Server struct {
	config    Config
	hub       *events.Hub
	tracker   *events.Tracker
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	ready     chan net.Addr
}

// New creates a status server over hub. tracker must be fed from the same hub.
func New(config Config, hub *events.Hub, tracker *events.Tracker, logger *slog.Logger) *Server {
	if config.KeepAlive <= 0 {
		config.KeepAlive = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		hub:       hub,
		tracker:   tracker,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
		ready:     make(chan net.Addr, 1),
	}
}

// Ready yields the bound address once the listener is open.
func (s *Server) Ready() <-chan net.Addr {
	return s.ready
}

// Start serves until ctx is cancelled (blocking). A cancelled context is a clean stop.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Listen, err)
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", ln.Addr().String())
	s.ready <- ln.Addr()

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/workers", s.handleWorkers)
	r.Get("/workers/{id}", s.handleWorker)
	r.Get("/events", s.handleEvents)
	r.Get("/openapi.json", s.handleOpenAPI)

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
