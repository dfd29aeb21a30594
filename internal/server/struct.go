package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/woozymasta/gtpulse/internal/health"
	"github.com/woozymasta/gtpulse/internal/monitor"
	"github.com/woozymasta/gtpulse/internal/pricing"
	"github.com/woozymasta/gtpulse/internal/registry"
	"github.com/woozymasta/gtpulse/internal/reliability"
	"github.com/woozymasta/gtpulse/internal/storage"
)

// Reliability is the part of the reliability layer exposed over the admin API.
type Reliability interface {
	Registry() *registry.Registry
	GetData(ctx context.Context, name string, opts reliability.Options) *reliability.Data
	GetCombinedPlayerData(ctx context.Context) reliability.PlayerData
	HealthStatus() map[string][]health.SourceHealth
	HealthSummary() map[string]reliability.EndpointSummary
	CacheStatus() map[string]reliability.CacheStatus
	ClearCache(names ...string) error
	CompareSources(ctx context.Context, name string) (reliability.Comparison, error)
}

// History reads persisted samples and events.
type History interface {
	RecentSamples(ctx context.Context, since time.Time, limit int) ([]storage.Sample, error)
	RecentEvents(ctx context.Context, kind string, limit int) ([]storage.Event, error)
}

// MonitorStatus reports the player monitor state.
type MonitorStatus interface {
	Status() monitor.Status
}

// Prices reports the current price snapshot.
type Prices interface {
	Current() pricing.Snapshot
}

// Deps bundles what the server serves. Only Reliability is required;
// routes backed by a nil dependency answer 404.
type Deps struct {
	Reliability Reliability
	History     History
	Monitor     MonitorStatus
	Prices      Prices
	Metrics     http.Handler
}

// Server holds the dependencies and configuration required to handle
// admin API requests.
type Server struct {
	deps Deps

	log zerolog.Logger

	// now is overridable in tests.
	now func() time.Time

	// shutdown stops background goroutines owned by middleware.
	shutdown chan struct{}

	// authToken is the secret token required to access administrative endpoints.
	authToken string

	// rps and burst configure the per-IP limiter.
	rps   float64
	burst int

	// trustProxy indicates whether the server should trust headers like X-Forwarded-For
	// or CF-Connecting-IP when determining the client's real IP address.
	trustProxy bool
}
