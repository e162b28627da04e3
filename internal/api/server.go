// Package api assembles the HTTP surface of the relay receiver.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	v0 "github.com/relaykit/snapshot-relay/internal/api/v0"
)

// ServerOption configures the relay API server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares     []func(http.Handler) http.Handler
	metricsRegistry *prometheus.Registry
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithMetricsRegistry mounts a Prometheus /metrics endpoint backed by
// the given registry. A nil registry leaves the endpoint unmounted.
func WithMetricsRegistry(registry *prometheus.Registry) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metricsRegistry = registry
	}
}

// NewServer creates and configures the HTTP router with the given
// routes and options
func NewServer(routes *v0.Routes, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{
		middlewares: []func(http.Handler) http.Handler{},
	}

	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()

	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	// Health check routes and the push endpoint live at the root; the
	// push path is part of the wire contract with the monitored process.
	r.Mount("/", routes.HealthRouter())
	r.Mount("/push", routes.IngressRouter())

	// Relay API routes
	r.Mount("/api/v0", routes.Router())

	if cfg.metricsRegistry != nil {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(cfg.metricsRegistry, promhttp.HandlerOpts{}))
	}

	return r
}

// LoggingMiddleware logs HTTP requests through the given logger
func LoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
