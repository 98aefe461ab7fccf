package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes a collector over HTTP:
//
//	/metrics   Prometheus exposition of the collector's registry
//	/progress  "<completed>/<total>" bitstreams of the current run
//	/healthz   liveness ("ok")
type Server struct {
	addr      string
	collector *Collector
	http      *http.Server
	logger    *slog.Logger
}

// NewServer creates a server for c on addr. Nothing is bound until Start.
func NewServer(addr string, c *Collector, logger *slog.Logger) *Server {
	s := &Server{
		addr:      addr,
		collector: c,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.Gatherer(), promhttp.HandlerOpts{}))
	mux.HandleFunc("/progress", s.handleProgress)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/health", s.handleHealth)

	s.http = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleProgress(w http.ResponseWriter, _ *http.Request) {
	completed, total := s.collector.Progress()
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "%d/%d\n", completed, total)
}

// Start binds the listen address, so a busy port fails the run before any
// decode starts, then serves in a goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("metrics listen %s: %w", s.addr, err)
	}
	s.addr = ln.Addr().String()
	s.logger.Info("metrics_server_listening", "addr", s.addr)

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics_server_error", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the server, waiting for in-flight scrapes until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Debug("metrics_server_shutting_down")
	return s.http.Shutdown(ctx)
}

// Addr returns the listen address; after Start it is the bound address.
func (s *Server) Addr() string {
	return s.addr
}
