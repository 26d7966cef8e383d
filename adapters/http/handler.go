// Package http provides the root HTTP router: health, version and metrics
// endpoints around the synthesized API.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/artpar/apiforge/adapters/metrics"
	"github.com/artpar/apiforge/core/registry"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds a request when RouterConfig.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// VersionResponse represents the version endpoint response.
type VersionResponse struct {
	Version       string `json:"version"`
	Service       string `json:"service"`
	SchemaVersion int    `json:"schema_version,omitempty"`
	Fingerprint   string `json:"fingerprint,omitempty"`
}

// HealthResponse represents a health check response.
type HealthResponse struct {
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
	SchemaVersion int    `json:"schema_version,omitempty"`
}

// HealthChecker checks a backing dependency. *storage.Mapper implements it.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// SnapshotSource exposes the active registry snapshot.
// *registry.Registry implements it.
type SnapshotSource interface {
	Current() *registry.Snapshot
}

// HealthHandler serves liveness and readiness checks.
type HealthHandler struct {
	db       HealthChecker
	snapshot SnapshotSource
}

// NewHealthHandler creates a new health handler. Either argument may be nil.
func NewHealthHandler(db HealthChecker, snapshot SnapshotSource) *HealthHandler {
	return &HealthHandler{db: db, snapshot: snapshot}
}

// Liveness returns OK while the process is running.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Readiness returns OK once a schema is active and the database answers.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var version int
	if h.snapshot != nil {
		snap := h.snapshot.Current()
		if snap == nil {
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
				Status: "unhealthy",
				Error:  "no schema loaded",
			})
			return
		}
		version = snap.Version
	}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
				Status: "unhealthy",
				Error:  err.Error(),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok", SchemaVersion: version})
}

// VersionHandler returns the build version and the active schema version.
func VersionHandler(version string, snapshot SnapshotSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := VersionResponse{Version: version, Service: "apiforge"}
		if snapshot != nil {
			if snap := snapshot.Current(); snap != nil {
				resp.SchemaVersion = snap.Version
				resp.Fingerprint = snap.Fingerprint
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// RouterConfig holds optional configuration for the router.
type RouterConfig struct {
	Metrics     *metrics.Collector
	MetricsPath string // Default: /metrics
	Version     string
	Timeout     time.Duration
	Snapshot    SnapshotSource
}

// NewRouter creates the main HTTP router. api serves everything under
// prefix and any path no other route claims.
func NewRouter(api http.Handler, prefix string, health *HealthHandler, logger zerolog.Logger, cfg RouterConfig) chi.Router {
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(logger, cfg.MetricsPath))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Timeout))

	if cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(cfg.Metrics, cfg.MetricsPath))
	}

	// Health endpoints
	r.Get("/health", health.Liveness)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Metrics != nil {
		r.Handle(cfg.MetricsPath, cfg.Metrics.Handler())
	}

	r.Get("/version", VersionHandler(cfg.Version, cfg.Snapshot))

	prefix = strings.TrimSuffix(prefix, "/")
	if prefix != "" {
		r.Handle(prefix, api)
		r.Handle(prefix+"/*", api)
	}
	r.NotFound(api.ServeHTTP)

	return r
}

// NewMetricsMiddleware counts requests by method and status class and
// tracks requests in flight.
func NewMetricsMiddleware(m *metrics.Collector, metricsPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip internal endpoints
			if internalPath(r.URL.Path, metricsPath) {
				next.ServeHTTP(w, r)
				return
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			m.InFlight(next).ServeHTTP(ww, r)
			m.ObserveRequest(r.Method, statusLabel(ww.Status()))
		})
	}
}

// statusLabel returns a string label for the status code.
func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}

// NewLoggingMiddleware logs every request except health checks and metrics
// scrapes.
func NewLoggingMiddleware(logger zerolog.Logger, metricsPath string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if internalPath(r.URL.Path, metricsPath) {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

func internalPath(path, metricsPath string) bool {
	return strings.HasPrefix(path, "/health") || path == metricsPath
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
