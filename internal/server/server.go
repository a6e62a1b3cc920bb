// Package server exposes a running job's status, health, metrics and record
// stream over HTTP for the container orchestrator.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/3leaps/bamverify/internal/observability"
	"github.com/3leaps/bamverify/internal/server/handlers"
	"github.com/3leaps/bamverify/internal/server/middleware"
)

const readHeaderTimeout = 10 * time.Second

// Server is the status HTTP server.
type Server struct {
	addr       string
	router     chi.Router
	httpServer *http.Server
	done       chan error
}

// New builds a server for addr (host:port; port 0 picks a free one).
// gatherer may be nil, in which case /metrics is not registered.
func New(addr string, status *handlers.JobStatus, gatherer prometheus.Gatherer) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Recovery)
	r.NotFound(middleware.NotFound)
	r.MethodNotAllowed(middleware.MethodNotAllowed)

	r.Get("/health/live", status.LivenessHandler)
	r.Get("/health/ready", status.ReadinessHandler)
	r.Get("/status", status.StatusHandler)
	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	return &Server{addr: addr, router: r}
}

// MountEvents registers the /events websocket stream. Call before Start.
func (s *Server) MountEvents(events *handlers.EventStream) {
	s.router.Get("/events", events.EventsHandler)
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the background.
// It returns the bound address.
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("status server listen %s: %w", s.addr, err)
	}

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	s.done = make(chan error, 1)
	go func() {
		err := s.httpServer.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()

	observability.CLILogger.Info("Status server listening", zap.String("addr", ln.Addr().String()))
	return ln.Addr(), nil
}

// Shutdown stops the server, waiting for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("status server shutdown: %w", err)
	}
	return <-s.done
}
