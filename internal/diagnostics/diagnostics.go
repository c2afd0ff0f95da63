// Package diagnostics implements the read-only diagnostics HTTP
// surface (spec.md §6.2 addition): process health and connwatch-style
// status, with no mutation endpoints over stations, connections,
// mappings, or events — that CRUD admin surface is explicitly out of
// scope for the engine.
package diagnostics

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/nowplaying-fm/ingest-engine/internal/buildinfo"
	"github.com/nowplaying-fm/ingest-engine/internal/connwatch"
)

// writeJSON encodes v as JSON to w, logging any encode failure at
// debug level; a client disconnecting mid-response is not actionable.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("diagnostics: failed to write JSON response", "error", err)
	}
}

// Server serves the diagnostics endpoints on its own listener,
// separate from any future administrative surface.
type Server struct {
	address string
	watch   *connwatch.Manager
	logger  *slog.Logger
	server  *http.Server
}

// New creates a diagnostics Server. watch reports the health of
// external dependencies probed elsewhere in the process (the store,
// primarily); it may be nil if no watchers have been registered.
func New(address string, watch *connwatch.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{address: address, watch: watch, logger: logger}
}

// Start begins serving HTTP requests; it blocks until the server stops
// or fails. Callers typically run it in a goroutine and call Shutdown
// on the context's cancellation.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)
	mux.HandleFunc("GET /status", s.handleStatus)

	s.server = &http.Server{
		Addr:         s.address,
		Handler:      s.withLogging(mux),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.logger.Info("starting diagnostics server", "address", s.address)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("diagnostics request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		writeJSON(w, map[string]connwatch.ServiceStatus{}, s.logger)
		return
	}
	writeJSON(w, s.watch.Status(), s.logger)
}

// Addr reports the address this server listens on, resolving the
// default when none was configured.
func Addr(configured string) string {
	if configured == "" {
		return ":9090"
	}
	return configured
}
