// Package server implements the HTTP transport layer: it mounts the
// read-only analytics API in front of the proxy forwarder, which catches
// every other path.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"

	"github.com/kjellberg/relayproxy/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Forwarder      http.Handler     // the terminal proxy handler; required
	Aggregator     StatsAggregator  // nil = no analytics routes; those paths reach the forwarder
	MetricsHandler http.Handler     // nil = no /metrics endpoint
	Metrics        *telemetry.Metrics
	Tracer         trace.Tracer // nil = no distributed tracing
	ReadyCheck     ReadyChecker // nil = always ready
}

type server struct {
	deps Deps
}

// New builds the HTTP handler: system endpoints and the analytics API are
// matched first, then everything else falls through to the forwarder.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	r.Use(s.securityHeaders)
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Tracer != nil {
		r.Use(tracingMiddleware(deps.Tracer))
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	if deps.Aggregator != nil {
		r.Route("/api/stats", func(r chi.Router) {
			r.Get("/hourly", s.handleHourlyStats)
			r.Get("/daily", s.handleDailyStats)
		})
	}

	// Catch-all: anything not matched above is forwarded upstream. chi only
	// falls through to "/*" when nothing more specific matched, which is
	// what "yield to sibling routes" requires.
	r.Handle("/*", s.deps.Forwarder)

	return r
}
