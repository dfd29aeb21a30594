// Package failover tries an endpoint's sources in priority order, keeps the
// health tracker current after every attempt and reconciles results when
// several sources are gathered at once.
package failover

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/woozymasta/gtpulse/internal/fetch"
	"github.com/woozymasta/gtpulse/internal/health"
	"github.com/woozymasta/gtpulse/internal/logger"
	"github.com/woozymasta/gtpulse/internal/priority"
	"github.com/woozymasta/gtpulse/internal/registry"
	"golang.org/x/sync/errgroup"
)

// Defaults applied to zero Config fields.
const (
	DefaultInterSourceDelay = 500 * time.Millisecond
	DefaultSwitchBackDelay  = 2 * time.Minute
)

// Doer performs the requests against a single source.
type Doer interface {
	Fetch(ctx context.Context, url, endpoint string, req fetch.Request, maxRetries int) (fetch.Payload, error)
}

// Config controls failover passes.
type Config struct {
	// InterSourceDelay is waited before every source after the first.
	// Negative disables it.
	InterSourceDelay time.Duration

	// SwitchBackDelay is the second-chance cooldown for affinity rules that
	// do not set their own.
	SwitchBackDelay time.Duration

	// MaxRetries per source; zero uses the Doer default.
	MaxRetries int
}

// Attempt is the outcome of trying one source.
type Attempt struct {
	Err      error
	Endpoint string
	Source   registry.Source
	Elapsed  time.Duration
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides the wall clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithAttemptHook registers a callback invoked after every source attempt.
func WithAttemptHook(fn func(Attempt)) Option {
	return func(o *Orchestrator) { o.hooks = append(o.hooks, fn) }
}

// Orchestrator runs failover passes. It is the only writer of the tracker.
type Orchestrator struct {
	reg       *registry.Registry
	tracker   *health.Tracker
	doer      Doer
	now       func() time.Time
	primaries map[string]time.Time
	log       zerolog.Logger
	hooks     []func(Attempt)
	cfg       Config
	mu        sync.Mutex
}

// New builds an orchestrator over reg, writing health into tracker.
func New(reg *registry.Registry, tracker *health.Tracker, doer Doer, cfg Config, opts ...Option) *Orchestrator {
	if cfg.InterSourceDelay < 0 {
		cfg.InterSourceDelay = 0
	} else if cfg.InterSourceDelay == 0 {
		cfg.InterSourceDelay = DefaultInterSourceDelay
	}
	if cfg.SwitchBackDelay <= 0 {
		cfg.SwitchBackDelay = DefaultSwitchBackDelay
	}

	o := &Orchestrator{
		reg:       reg,
		tracker:   tracker,
		doer:      doer,
		now:       time.Now,
		primaries: make(map[string]time.Time),
		log:       logger.For("failover"),
		cfg:       cfg,
	}
	for _, opt := range opts {
		opt(o)
	}

	start := o.now()
	for _, ep := range reg.Endpoints() {
		if ep.Redundant() {
			o.primaries[ep.Name] = start
		}
	}

	return o
}

// Registry returns the endpoint registry the orchestrator serves.
func (o *Orchestrator) Registry() *registry.Registry {
	return o.reg
}

// LastHealthyPrimary returns when the first configured source of a redundant
// endpoint last answered. It starts at construction time.
func (o *Orchestrator) LastHealthyPrimary(endpoint string) (time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	t, ok := o.primaries[endpoint]
	return t, ok
}

// FetchWithPriority tries the endpoint's sources strictly one after another
// in priority order and returns the first success together with the source
// that produced it. Every attempt updates the health tracker. When all
// sources fail the result is an *AllSourcesFailedError. Caller cancellation
// aborts the pass between attempts and is returned as is.
func (o *Orchestrator) FetchWithPriority(ctx context.Context, endpoint string, req fetch.Request) (fetch.Payload, registry.Source, error) {
	ep, err := o.reg.Get(endpoint)
	if err != nil {
		return nil, registry.Source{}, err
	}
	req = merge(ep, req)

	order := ep.Sources
	if ep.Redundant() {
		order = priority.Order(ep, o.tracker.Snapshot(ep.Name), o.secondChance(ep))
	}

	failed := &AllSourcesFailedError{Endpoint: ep.Name}
	for i, src := range order {
		if i > 0 {
			if err := fetch.Sleep(ctx, o.cfg.InterSourceDelay); err != nil {
				return nil, registry.Source{}, err
			}
			o.log.Debug().
				Str("endpoint", ep.Name).
				Str("source", src.Name).
				Int("position", i+1).
				Msg("Trying backup source")
		}

		payload, err := o.try(ctx, ep, src, req)
		if err == nil {
			return payload, src, nil
		}
		if ctx.Err() != nil {
			return nil, registry.Source{}, ctx.Err()
		}
		failed.Errors = append(failed.Errors, SourceError{Source: src, Err: err})
	}

	return nil, registry.Source{}, failed
}

// Result is one source's answer collected by Gather.
type Result struct {
	FetchedAt time.Time
	Err       error
	Payload   fetch.Payload
	Source    registry.Source
}

// Gather queries every source of the endpoint concurrently, subject to the
// executor's gate, and returns the results in configured source order.
// Health is recorded for every source.
func (o *Orchestrator) Gather(ctx context.Context, endpoint string, req fetch.Request) ([]Result, error) {
	ep, err := o.reg.Get(endpoint)
	if err != nil {
		return nil, err
	}
	req = merge(ep, req)

	results := make([]Result, len(ep.Sources))
	var g errgroup.Group
	for i, src := range ep.Sources {
		g.Go(func() error {
			payload, err := o.try(ctx, ep, src, req)
			results[i] = Result{Source: src, Payload: payload, Err: err, FetchedAt: o.now()}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return results, nil
}

// secondChance applies the explicit second-chance transition for the
// endpoint's preferred source before ordering.
func (o *Orchestrator) secondChance(ep *registry.Endpoint) bool {
	if ep.Affinity == nil || !ep.Affinity.SecondChance {
		return false
	}
	src, ok := ep.Source(ep.Affinity.Prefer)
	if !ok {
		return false
	}

	cooldown := ep.Affinity.SwitchBack
	if cooldown <= 0 {
		cooldown = o.cfg.SwitchBackDelay
	}

	return o.tracker.GrantSecondChance(ep.Name, src.URL, cooldown)
}

func (o *Orchestrator) try(ctx context.Context, ep *registry.Endpoint, src registry.Source, req fetch.Request) (fetch.Payload, error) {
	start := o.now()
	payload, err := o.doer.Fetch(ctx, src.URL, ep.Name, req, o.cfg.MaxRetries)
	elapsed := o.now().Sub(start)

	switch {
	case err == nil:
		o.tracker.RecordSuccess(ep.Name, src.URL, elapsed)
		if ep.Redundant() && ep.IsPrimary(src.URL) {
			o.mu.Lock()
			o.primaries[ep.Name] = o.now()
			o.mu.Unlock()
		}
		o.log.Debug().
			Str("endpoint", ep.Name).
			Str("source", src.Name).
			Dur("elapsed", elapsed).
			Msg("Source answered")
	case ctx.Err() != nil:
		// Abandoned by the caller, not the source's fault.
		return nil, err
	default:
		o.tracker.RecordFailure(ep.Name, src.URL)
		o.log.Debug().
			Err(err).
			Str("endpoint", ep.Name).
			Str("source", src.Name).
			Msg("Source failed")
	}

	for _, fn := range o.hooks {
		fn(Attempt{Endpoint: ep.Name, Source: src, Err: err, Elapsed: elapsed})
	}

	return payload, err
}

// merge layers per-call options over the endpoint's configured ones.
func merge(ep *registry.Endpoint, req fetch.Request) fetch.Request {
	out := fetch.Request{
		Method:     req.Method,
		SalvageKey: req.SalvageKey,
		Params:     overlay(ep.Params, req.Params),
		Headers:    overlay(ep.Headers, req.Headers),
	}
	if out.SalvageKey == "" {
		out.SalvageKey = ep.SalvageKey
	}

	return out
}

func overlay(base, top map[string]string) map[string]string {
	if len(base) == 0 && len(top) == 0 {
		return nil
	}

	out := make(map[string]string, len(base)+len(top))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range top {
		out[k] = v
	}

	return out
}
