// Package server exposes HTTP trigger endpoints for scheduler-driven
// deployments: an external scheduler POSTs to /cyclez or /healthz instead
// of launching the binary per run. Each request executes at most one
// cycle; overlapping triggers are rejected because the persisted state is
// single-writer.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"
)

// Cycler runs one fetch cycle and reports its outcome.
type Cycler interface {
	Cycle(ctx context.Context) bool
}

// Checker runs one staleness check.
type Checker interface {
	Check(ctx context.Context)
}

// Server handles trigger requests.
type Server struct {
	cycler  Cycler
	checker Checker
	logger  *slog.Logger
	busy    atomic.Bool
}

// New creates a trigger server.
func New(cycler Cycler, checker Checker, logger *slog.Logger) *Server {
	return &Server{
		cycler:  cycler,
		checker: checker,
		logger:  logger,
	}
}

// ListenAndServe registers routes and serves until the listener fails.
func (s *Server) ListenAndServe(port string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", handleHealth)
	mux.HandleFunc("/cyclez", s.handleCycle)
	mux.HandleFunc("/healthz", s.handleStaleness)

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Minute, // a cycle runs within the request
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Info("Starting HTTP server", "port", port)
	return server.ListenAndServe()
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "ok")
}

func (s *Server) handleCycle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.busy.CompareAndSwap(false, true) {
		s.logger.Warn("Cycle trigger rejected, another run is in flight")
		http.Error(w, "Cycle already running", http.StatusConflict)
		return
	}
	defer s.busy.Store(false)

	s.logger.Info("Cycle endpoint triggered")
	success := s.cycler.Cycle(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprintf(w, `{"status":"completed","success":%t}`, success); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) handleStaleness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.busy.CompareAndSwap(false, true) {
		s.logger.Warn("Staleness trigger rejected, another run is in flight")
		http.Error(w, "Run already in progress", http.StatusConflict)
		return
	}
	defer s.busy.Store(false)

	s.logger.Info("Staleness check endpoint triggered")
	s.checker.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"completed"}`); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
