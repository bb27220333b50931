// Package statusapi serves local operator/monitoring endpoints: a liveness
// probe, a Prometheus scrape target, and a JSON snapshot of the running
// counters. The server lifecycle (mux wiring in NewServer, Start/Stop with
// a bounded Shutdown) follows the teacher's dashboard api.Server.
package statusapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/darkpool-rfq/mm-agent/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

// Server exposes /health, /metrics, and /api/status on a single port.
type Server struct {
	counters *metrics.Counters
	server   *http.Server
	logger   *slog.Logger
}

// NewServer builds a Server bound to the given port. It is not started
// until Start is called.
func NewServer(port int, counters *metrics.Counters, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{
		counters: counters,
		logger:   logger.With(slog.String("component", "statusapi")),
	}

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start runs the HTTP server until Stop is called or it fails to bind.
// It blocks; callers typically run it in its own goroutine.
func (s *Server) Start() error {
	s.logger.Info("status server starting", slog.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("statusapi: listen: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down, waiting for in-flight requests.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.counters.Snapshot()); err != nil {
		s.logger.Error("failed to encode status", slog.String("error", err.Error()))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
