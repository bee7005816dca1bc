package api

import (
	"net/http"
	"time"

	"github.com/oriys/pulsar/internal/access"
	"github.com/oriys/pulsar/internal/auth"
	"github.com/oriys/pulsar/internal/cache"
	"github.com/oriys/pulsar/internal/logging"
	"github.com/oriys/pulsar/internal/metrics"
	"github.com/oriys/pulsar/internal/observability"
	"github.com/oriys/pulsar/internal/operation"
	"github.com/oriys/pulsar/internal/ratelimit"
	"github.com/oriys/pulsar/internal/tenant"
)

// ServerConfig contains dependencies for the HTTP server.
type ServerConfig struct {
	Verifier    auth.Verifier
	Resolver    *tenant.Resolver
	Validator   *access.Validator
	Tenants     TenantService
	Proxy       *operation.Proxy
	Cache       *cache.Manager
	Invalidator *cache.Invalidator
	Limiter     *ratelimit.Limiter
	PublicPaths []string

	// ReadTimeout bounds request reads. WriteTimeout is normally left at
	// zero because streaming responses hold the connection open.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewHandler builds the full middleware chain over the edge routes. The
// pipeline order is fixed: request id, tracing, audit, authentication,
// tenant resolution, access validation, rate limiting, then the handlers
// (which enforce their own required permissions).
func NewHandler(cfg ServerConfig) http.Handler {
	mux := http.NewServeMux()

	h := &Handler{
		Resolver:    cfg.Resolver,
		Validator:   cfg.Validator,
		Tenants:     cfg.Tenants,
		Proxy:       cfg.Proxy,
		Cache:       cfg.Cache,
		Invalidator: cfg.Invalidator,
	}
	h.RegisterRoutes(mux)

	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /health/ready", h.handleReady)
	mux.Handle("GET /metrics", metrics.Handler())

	var handler http.Handler = mux
	handler = ratelimit.Middleware(cfg.Limiter, ratelimit.DefaultSensitiveRoutes(), cfg.PublicPaths, writeError)(handler)
	handler = AccessMiddleware(cfg.Validator, cfg.PublicPaths)(handler)
	handler = TenantMiddleware(cfg.Resolver, cfg.PublicPaths)(handler)
	handler = auth.Middleware(cfg.Verifier, cfg.PublicPaths, writeError)(handler)
	handler = AuditMiddleware(handler)
	handler = observability.HTTPMiddleware(handler)
	handler = RequestIDMiddleware(handler)

	return handler
}

// StartHTTPServer creates and starts the HTTP server for the edge pipeline.
func StartHTTPServer(addr string, cfg ServerConfig) *http.Server {
	server := &http.Server{
		Addr:         addr,
		Handler:      NewHandler(cfg),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("HTTP server error", "error", err)
		}
	}()

	return server
}
