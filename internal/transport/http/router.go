// Package httptransport is the HTTP boundary: routing, middleware and the
// thin handlers that delegate to the location and panic services.
package httptransport

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kinwatch/internal/platform/metrics"
	"kinwatch/pkg/platform/httputil"
	"kinwatch/pkg/platform/middleware/auth"
	"kinwatch/pkg/platform/middleware/metadata"
	"kinwatch/pkg/platform/middleware/request"
	"kinwatch/pkg/platform/middleware/requesttime"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(r *http.Request) error

type RouterConfig struct {
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
	Gatherer  prometheus.Gatherer
	Validator auth.JWTValidator
	Locations *LocationHandler
	Panics    *PanicHandler
	Health    map[string]HealthCheck
}

// NewRouter wires the public API. Everything under /v1 requires a bearer
// token whose subject becomes the caller.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(request.Recovery(cfg.Logger))
	r.Use(request.RequestID)
	r.Use(request.Logger(cfg.Logger))
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(countRequests(cfg.Metrics))

	r.Get("/healthz", healthz(cfg.Health))
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(auth.RequireAuth(cfg.Validator, cfg.Logger))
		if cfg.Locations != nil {
			cfg.Locations.Register(v1)
		}
		if cfg.Panics != nil {
			cfg.Panics.Register(v1)
		}
	})
	return r
}

func healthz(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := http.StatusOK
		result := map[string]string{}
		for name, check := range checks {
			if err := check(r); err != nil {
				status = http.StatusServiceUnavailable
				result[name] = "unavailable"
				continue
			}
			result[name] = "ok"
		}
		httputil.WriteJSON(w, status, map[string]any{
			"status":       http.StatusText(status),
			"dependencies": result,
			"time":         time.Now().UTC(),
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// countRequests labels by the matched route pattern so ids in paths never
// explode the label set.
func countRequests(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)
			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			m.IncrementHTTPRequests(route, strconv.Itoa(sw.status/100)+"xx")
		})
	}
}
