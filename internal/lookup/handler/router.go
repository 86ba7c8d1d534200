package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"osint/internal/platform/metrics"
	"osint/pkg/platform/httputil"
)

type RouterOption func(*routerConfig)

type routerConfig struct {
	httpMetrics *metrics.HTTPMetrics
	gatherer    prometheus.Gatherer
	readiness   map[string]func(context.Context) error
}

// WithHTTPMetrics records request metrics and serves /metrics from gatherer.
func WithHTTPMetrics(m *metrics.HTTPMetrics, gatherer prometheus.Gatherer) RouterOption {
	return func(c *routerConfig) {
		c.httpMetrics = m
		c.gatherer = gatherer
	}
}

// WithReadiness serves /readyz from named dependency checks.
func WithReadiness(checks map[string]func(context.Context) error) RouterOption {
	return func(c *routerConfig) { c.readiness = checks }
}

// NewRouter builds the service router with the shared middleware chain.
func NewRouter(h *Handler, opts ...RouterOption) http.Handler {
	var cfg routerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(h.logger))
	if cfg.httpMetrics != nil {
		r.Use(cfg.httpMetrics.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readyHandler(cfg.readiness))
	if cfg.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.gatherer, promhttp.HandlerOpts{}))
	}
	h.Register(r)
	return r
}

func readyHandler(checks map[string]func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(r.Context()); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}
		httputil.WriteJSON(w, status, results)
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.DebugContext(r.Context(), "http request",
				"request_id", middleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}
