// Package server implements the HTTP transport layer for the radagast
// bridge daemon. It exposes the vendor-native messaging surface and
// forwards every call through the Vertex client.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	bridge "github.com/eugener/radagast/internal"
	"github.com/eugener/radagast/internal/cache"
	"github.com/eugener/radagast/internal/telemetry"
	"github.com/eugener/radagast/internal/vertex"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// UsageRecorder records API usage asynchronously.
type UsageRecorder interface {
	Record(bridge.UsageRecord)
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Vertex       *vertex.Client
	ReadyCheck   ReadyChecker        // nil = always ready (for tests)
	Usage        UsageRecorder       // nil = no usage recording
	Cache        cache.Cache         // nil = no caching
	CacheTTL     time.Duration       // per-entry TTL for cached responses
	Metrics      *telemetry.Metrics  // nil = no metrics middleware
	Registry     prometheus.Gatherer // nil = no /metrics endpoint
	APIKeys      []string            // inbound bearer keys; empty = no auth
	MaxBodyBytes int64               // 0 = defaultMaxBody
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}
	if s.deps.MaxBodyBytes <= 0 {
		s.deps.MaxBodyBytes = defaultMaxBody
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.Registry != nil {
		r.Get("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}).ServeHTTP)
	}

	// Client-facing vendor-native API
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/v1/messages", s.handleMessages)
		r.Post("/v1/messages/count_tokens", s.handleCountTokens)
		r.HandleFunc("/v1/messages/batches", s.handleBatches)
		r.HandleFunc("/v1/messages/batches/*", s.handleBatches)
	})

	return r
}

type server struct {
	deps Deps
}
