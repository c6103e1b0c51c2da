// Package handler provides the HTTP API of the file store.
package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/prn-tf/gridfs-storage/internal/metrics"
)

// HealthChecker reports whether a backing service is reachable.
type HealthChecker func(ctx context.Context) error

// Router handles HTTP routing for the file API.
type Router struct {
	fileHandler *FileHandler
	metrics     *metrics.Metrics
	metricsPath string
	health      HealthChecker
	logger      zerolog.Logger
}

// RouterConfig contains configuration for the router.
type RouterConfig struct {
	FileHandler *FileHandler
	Metrics     *metrics.Metrics

	// MetricsPath mounts the Prometheus handler when non-empty.
	MetricsPath string

	// Health is consulted by /health; nil always reports healthy.
	Health HealthChecker

	Logger zerolog.Logger
}

// NewRouter creates a new Router.
func NewRouter(config RouterConfig) *Router {
	return &Router{
		fileHandler: config.FileHandler,
		metrics:     config.Metrics,
		metricsPath: config.MetricsPath,
		health:      config.Health,
		logger:      config.Logger.With().Str("component", "router").Logger(),
	}
}

// Handler returns the main HTTP handler.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(rt.observe)

	// Health check
	r.Get("/health", rt.handleHealth)

	if rt.metricsPath != "" && rt.metrics != nil {
		r.Handle(rt.metricsPath, rt.metrics.Handler())
	}

	rt.fileHandler.RegisterRoutes(r)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NotFound", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "the method is not allowed against this resource")
	})

	return r
}

// handleHealth handles health check requests.
func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request) {
	if rt.health != nil {
		if err := rt.health(r.Context()); err != nil {
			rt.logger.Warn().Err(err).Msg("Health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// observe logs each request and records its metrics.
func (rt *Router) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		rt.metrics.HTTPRequest(r.Method, strconv.Itoa(status), elapsed)

		rt.logger.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", elapsed).
			Msg("Request served")
	})
}
