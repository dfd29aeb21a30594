// Package server implements the admin HTTP API, its middleware and request handlers.
package server

import (
	"net/http"
	"time"

	"github.com/woozymasta/gtpulse/internal/config"
	"github.com/woozymasta/gtpulse/internal/logger"
)

// New creates a Server over deps using the server and rate limit options of cfg.
func New(deps Deps, cfg *config.Config) *Server {
	return &Server{
		deps:       deps,
		log:        logger.For("server"),
		now:        time.Now,
		shutdown:   make(chan struct{}),
		authToken:  cfg.Server.AuthToken,
		rps:        cfg.RateLimit.Rate,
		burst:      cfg.RateLimit.Burst,
		trustProxy: cfg.Server.TrustProxy,
	}
}

// Stop releases background goroutines started by Run.
func (s *Server) Stop() {
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
}

// Run configures the HTTP routes and returns the main handler.
func (s *Server) Run() http.Handler {
	mux := http.NewServeMux()

	admin := func(h http.HandlerFunc) http.Handler {
		return AdminAuthMiddleware(s.authToken, h)
	}

	mux.Handle("GET /api/health", admin(s.handleHealth))
	mux.Handle("GET /api/health/summary", admin(s.handleHealthSummary))
	mux.Handle("GET /api/cache", admin(s.handleCacheStatus))
	mux.Handle("DELETE /api/cache", admin(s.handleClearCache))
	mux.Handle("GET /api/data/{endpoint}", admin(s.handleData))
	mux.Handle("GET /api/compare/{endpoint}", admin(s.handleCompare))
	mux.Handle("GET /api/players", admin(s.handlePlayers))
	mux.Handle("GET /api/samples", admin(s.handleSamples))
	mux.Handle("GET /api/events", admin(s.handleEvents))
	mux.Handle("GET /api/monitor", admin(s.handleMonitor))
	mux.Handle("GET /api/prices", admin(s.handlePrices))
	mux.Handle("GET /api/version", http.HandlerFunc(s.handleVersion))

	if s.deps.Metrics != nil {
		mux.Handle("GET /metrics", s.deps.Metrics)
	}

	return s.LoggingMiddleware(s.RateLimitMiddleware(mux))
}
