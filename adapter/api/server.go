// Package api serves job synchronization over HTTP.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/fieldsync/pkg/observability"
)

// CorrelationHeader carries the caller's correlation id through to sync
// records and events.
const CorrelationHeader = "X-Correlation-ID"

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig leaves room in the write timeout for a full
// reconcile against a slow FSM.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:         "0.0.0.0:8080",
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  time.Minute,
	}
}

// Server routes job, crew and window requests to a JobHandler.
type Server struct {
	mux    *http.ServeMux
	http   *http.Server
	health *observability.HealthRegistry
	logger *slog.Logger
}

// NewServer wires the routes. A nil health registry always reports healthy.
func NewServer(cfg ServerConfig, h *JobHandler, health *observability.HealthRegistry, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{mux: http.NewServeMux(), health: health, logger: logger}

	routes := map[string]http.HandlerFunc{
		"GET /health": s.handleHealth,

		"POST /api/v1/jobs":                     h.CreateJob,
		"PUT /api/v1/jobs/{jobID}/schedule":     h.RescheduleJob,
		"DELETE /api/v1/jobs/{jobID}/schedule":  h.UnscheduleJob,
		"PUT /api/v1/jobs/{jobID}/assignments":  h.ReconcileAssignments,
		"GET /api/v1/jobs/{jobID}/sync-records": h.SyncRecords,
		"GET /api/v1/crew/{name}":               h.ResolveCrew,
		"POST /api/v1/window":                   h.ComputeWindow,
	}
	for pattern, fn := range routes {
		s.mux.HandleFunc(pattern, fn)
	}

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// ExposeMetrics serves a snapshot of m on GET /metrics.
func (s *Server) ExposeMetrics(m *observability.InMemoryMetrics) *Server {
	s.mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, m.Snapshot())
	})
	return s
}

// Handler returns the routes wrapped with request correlation and logging.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := observability.WithCorrelationID(r.Context(), r.Header.Get(CorrelationHeader))
		ctx = observability.WithRequestID(ctx, "")
		w.Header().Set(CorrelationHeader, observability.CorrelationIDFromContext(ctx))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		s.mux.ServeHTTP(rec, r.WithContext(ctx))

		level := slog.LevelDebug
		if rec.status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		s.logger.Log(ctx, level, "request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": string(observability.HealthStatusHealthy),
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	health := s.health.GetOverallHealth(r.Context())
	code := http.StatusOK
	if health.Status == observability.HealthStatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, health)
}

// Start blocks serving until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("api server listening", "addr", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown waits for in-flight requests until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("api server shutting down")
	return s.http.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error":   http.StatusText(status),
		"message": message,
	})
}
