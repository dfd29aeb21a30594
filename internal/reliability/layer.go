// Package reliability is the process-wide data access layer: it serves
// endpoint reads from cache, refreshes them through failover and degrades
// to the last known value when every source fails.
package reliability

import (
	"context"
	"maps"
	"time"

	"github.com/rs/zerolog"
	"github.com/woozymasta/gtpulse/internal/cache"
	"github.com/woozymasta/gtpulse/internal/failover"
	"github.com/woozymasta/gtpulse/internal/fetch"
	"github.com/woozymasta/gtpulse/internal/health"
	"github.com/woozymasta/gtpulse/internal/logger"
	"github.com/woozymasta/gtpulse/internal/registry"
	"golang.org/x/sync/singleflight"
)

// Outcomes reported to the read observer.
const (
	OutcomeFresh  = "fresh"
	OutcomeCached = "cached"
	OutcomeStale  = "stale"
	OutcomeEmpty  = "empty"
)

// DefaultEndpointGap is the pause between endpoints in GetAllData.
const DefaultEndpointGap = 200 * time.Millisecond

// Config controls the layer.
type Config struct {
	EndpointGap time.Duration
	ClockSkew   time.Duration
}

// Options for a single read.
type Options struct {
	Request      fetch.Request
	ForceRefresh bool
}

// Data is an endpoint value handed to consumers. Stale is set when the
// refresh failed and the last known value is served instead.
type Data struct {
	FetchedAt time.Time     `json:"fetched_at"`
	Payload   fetch.Payload `json:"data"`
	Source    string        `json:"source"`
	Stale     bool          `json:"stale"`
}

// Option configures a Layer.
type Option func(*Layer)

// WithClock overrides the wall clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Layer) { l.now = now }
}

// WithReadObserver registers a callback receiving every read outcome.
func WithReadObserver(fn func(endpoint, outcome string)) Option {
	return func(l *Layer) { l.onRead = fn }
}

// Layer is the owned reliability instance shared by all consumers.
type Layer struct {
	reg     *registry.Registry
	tracker *health.Tracker
	orch    *failover.Orchestrator
	store   *cache.Store
	now     func() time.Time
	onRead  func(endpoint, outcome string)
	flight  singleflight.Group
	log     zerolog.Logger
	cfg     Config
}

// New wires the layer over an orchestrator, its tracker and a cache store.
func New(orch *failover.Orchestrator, tracker *health.Tracker, store *cache.Store, cfg Config, opts ...Option) *Layer {
	if cfg.EndpointGap < 0 {
		cfg.EndpointGap = 0
	} else if cfg.EndpointGap == 0 {
		cfg.EndpointGap = DefaultEndpointGap
	}
	if cfg.ClockSkew <= 0 {
		cfg.ClockSkew = failover.DefaultClockSkew
	}

	l := &Layer{
		reg:     orch.Registry(),
		tracker: tracker,
		orch:    orch,
		store:   store,
		now:     time.Now,
		log:     logger.For("reliability"),
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Registry returns the endpoint registry.
func (l *Layer) Registry() *registry.Registry {
	return l.reg
}

// GetData returns the endpoint value, refreshing it first when forced,
// missing or older than the endpoint interval. A failed refresh falls back
// to the cached value flagged as stale, or nil when nothing was ever
// fetched. Concurrent refreshes of the same endpoint share one failover
// pass. GetData never returns an error.
func (l *Layer) GetData(ctx context.Context, name string, opts Options) *Data {
	ep, err := l.reg.Get(name)
	if err != nil {
		l.log.Warn().Err(err).Msg("Data requested for unknown endpoint")
		return nil
	}

	if !opts.ForceRefresh {
		if e, ok := l.store.Fresh(ep.Name, ep.Interval); ok {
			l.observe(ep.Name, OutcomeCached)
			return fromEntry(e, false)
		}
	}

	// The shared pass must outlive any single caller.
	ch := l.flight.DoChan(ep.Name, func() (any, error) {
		return l.refresh(context.WithoutCancel(ctx), ep.Name, opts.Request)
	})

	select {
	case res := <-ch:
		if res.Err == nil {
			l.observe(ep.Name, OutcomeFresh)
			return fromEntry(res.Val.(cache.Entry), false)
		}
		l.log.Error().Err(res.Err).Str("endpoint", ep.Name).Msg("Failed to refresh endpoint")
	case <-ctx.Done():
		l.log.Warn().Err(ctx.Err()).Str("endpoint", ep.Name).Msg("Read abandoned while refreshing")
	}

	return l.fallback(ep.Name)
}

func (l *Layer) refresh(ctx context.Context, name string, req fetch.Request) (cache.Entry, error) {
	payload, src, err := l.orch.FetchWithPriority(ctx, name, req)
	if err != nil {
		return cache.Entry{}, err
	}

	e := l.store.Put(name, payload, src.Name)
	l.log.Debug().Str("endpoint", name).Str("source", src.Name).Msg("Cache updated")

	return e, nil
}

func (l *Layer) fallback(name string) *Data {
	e, ok := l.store.Get(name)
	if !ok {
		l.observe(name, OutcomeEmpty)
		return nil
	}

	l.log.Warn().
		Str("endpoint", name).
		Str("source", e.Source).
		Dur("age", l.now().Sub(e.FetchedAt)).
		Msg("Serving cached data after fetch failure")
	l.observe(name, OutcomeStale)

	return fromEntry(e, true)
}

// GetAllData reads every endpoint in registry order with a short pause
// between them. Endpoints without any value map to nil.
func (l *Layer) GetAllData(ctx context.Context) map[string]*Data {
	names := l.reg.Names()
	out := make(map[string]*Data, len(names))

	for i, name := range names {
		if i > 0 {
			if err := fetch.Sleep(ctx, l.cfg.EndpointGap); err != nil {
				break
			}
		}
		out[name] = l.GetData(ctx, name, Options{})
	}

	return out
}

// ClearCache empties the named endpoints, or all of them. Unknown names
// are rejected before anything is cleared.
func (l *Layer) ClearCache(names ...string) error {
	for _, name := range names {
		if _, err := l.reg.Get(name); err != nil {
			return err
		}
	}

	l.store.Clear(names...)
	l.log.Info().Strs("endpoints", names).Msg("Cache cleared")

	return nil
}

func (l *Layer) observe(endpoint, outcome string) {
	if l.onRead != nil {
		l.onRead(endpoint, outcome)
	}
}

// fromEntry copies the top level of the payload so consumers cannot
// rewrite the cached value.
func fromEntry(e cache.Entry, stale bool) *Data {
	return &Data{
		Payload:   maps.Clone(e.Payload),
		Source:    e.Source,
		FetchedAt: e.FetchedAt,
		Stale:     stale,
	}
}
