// Package health tracks per-source success and failure streaks and derives
// a healthy/unhealthy flag for every (endpoint, source) pair.
package health

import (
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"
	"github.com/woozymasta/gtpulse/internal/logger"
	"github.com/woozymasta/gtpulse/internal/registry"
)

// DefaultThreshold is the consecutive-failure count that marks a source unhealthy.
const DefaultThreshold = 3

// Event is a health state transition.
type Event string

// Health transitions reported to observers.
const (
	Degraded     Event = "degraded"
	Recovered    Event = "recovered"
	SecondChance Event = "second_chance"
)

// SourceHealth is the mutable health record of one source of one endpoint.
type SourceHealth struct {
	// betteralign:ignore

	Endpoint            string        `json:"endpoint"`
	Name                string        `json:"name"`
	URL                 string        `json:"url"`
	SuccessCount        int64         `json:"success_count"`
	FailureCount        int64         `json:"failure_count"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastSuccess         time.Time     `json:"last_success"`
	LastFailure         time.Time     `json:"last_failure"`
	LastResponseTime    time.Duration `json:"last_response_time"`
	Healthy             bool          `json:"is_healthy"`
}

// Observer receives health transitions. It is called outside the tracker lock.
type Observer func(ev Event, h SourceHealth)

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the wall clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithObserver registers a transition observer.
func WithObserver(o Observer) Option {
	return func(t *Tracker) { t.observers = append(t.observers, o) }
}

// Tracker owns the health records of every configured source.
// Records are created at construction and never removed.
type Tracker struct {
	now       func() time.Time
	records   map[uint64]*SourceHealth
	order     map[string][]uint64
	log       zerolog.Logger
	observers []Observer
	threshold int
	mu        sync.Mutex
}

// NewTracker creates a healthy record for every source of every endpoint in reg.
func NewTracker(reg *registry.Registry, threshold int, opts ...Option) *Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	t := &Tracker{
		now:       time.Now,
		records:   make(map[uint64]*SourceHealth),
		order:     make(map[string][]uint64),
		log:       logger.For("health"),
		threshold: threshold,
	}
	for _, opt := range opts {
		opt(t)
	}

	for _, ep := range reg.Endpoints() {
		for _, src := range ep.Sources {
			k := key(ep.Name, src.URL)
			t.records[k] = &SourceHealth{
				Endpoint: ep.Name,
				Name:     src.Name,
				URL:      src.URL,
				Healthy:  true,
			}
			t.order[ep.Name] = append(t.order[ep.Name], k)
		}
	}

	return t
}

// Threshold returns the configured consecutive-failure threshold.
func (t *Tracker) Threshold() int {
	return t.threshold
}

// RecordSuccess resets the failure streak and marks the source healthy.
func (t *Tracker) RecordSuccess(endpoint, url string, latency time.Duration) {
	t.mu.Lock()
	rec, ok := t.records[key(endpoint, url)]
	if !ok {
		t.mu.Unlock()
		return
	}

	rec.SuccessCount++
	rec.LastSuccess = t.now()
	rec.LastResponseTime = latency
	rec.ConsecutiveFailures = 0
	recovered := !rec.Healthy
	rec.Healthy = true
	snap := *rec
	t.mu.Unlock()

	if recovered {
		t.log.Info().
			Str("endpoint", endpoint).
			Str("source", snap.Name).
			Msg("Source marked as healthy again")
		t.notify(Recovered, snap)
	}
}

// RecordFailure extends the failure streak; reaching the threshold flips a
// healthy source to unhealthy.
func (t *Tracker) RecordFailure(endpoint, url string) {
	t.mu.Lock()
	rec, ok := t.records[key(endpoint, url)]
	if !ok {
		t.mu.Unlock()
		return
	}

	rec.FailureCount++
	rec.ConsecutiveFailures++
	rec.LastFailure = t.now()
	degraded := rec.Healthy && rec.ConsecutiveFailures >= t.threshold
	if degraded {
		rec.Healthy = false
	}
	snap := *rec
	t.mu.Unlock()

	if degraded {
		t.log.Warn().
			Str("endpoint", endpoint).
			Str("source", snap.Name).
			Int("consecutive_failures", snap.ConsecutiveFailures).
			Msg("Source marked as unhealthy")
		t.notify(Degraded, snap)
	}
}

// GrantSecondChance provisionally re-enables an unhealthy source once more
// than cooldown has passed since its last failure. The streak is decremented
// by one and the source flips back to healthy if that drops it below the
// threshold. It reports whether the chance was granted.
func (t *Tracker) GrantSecondChance(endpoint, url string, cooldown time.Duration) bool {
	t.mu.Lock()
	rec, ok := t.records[key(endpoint, url)]
	if !ok || rec.Healthy || t.now().Sub(rec.LastFailure) <= cooldown {
		t.mu.Unlock()
		return false
	}

	if rec.ConsecutiveFailures > 0 {
		rec.ConsecutiveFailures--
	}
	if rec.ConsecutiveFailures < t.threshold {
		rec.Healthy = true
	}
	snap := *rec
	t.mu.Unlock()

	t.log.Info().
		Str("endpoint", endpoint).
		Str("source", snap.Name).
		Dur("since_failure", t.now().Sub(snap.LastFailure)).
		Msg("Giving source another chance")
	t.notify(SecondChance, snap)

	return true
}

// IsHealthy reports the derived health flag; unknown sources are unhealthy.
func (t *Tracker) IsHealthy(endpoint, url string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[key(endpoint, url)]
	return ok && rec.Healthy
}

// Get returns a copy of one record.
func (t *Tracker) Get(endpoint, url string) (SourceHealth, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[key(endpoint, url)]
	if !ok {
		return SourceHealth{}, false
	}

	return *rec, true
}

// Snapshot returns copies of an endpoint's records in configured source order.
func (t *Tracker) Snapshot(endpoint string) []SourceHealth {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := t.order[endpoint]
	out := make([]SourceHealth, 0, len(keys))
	for _, k := range keys {
		out = append(out, *t.records[k])
	}

	return out
}

// All returns snapshots of every endpoint.
func (t *Tracker) All() map[string][]SourceHealth {
	t.mu.Lock()
	names := make([]string, 0, len(t.order))
	for name := range t.order {
		names = append(names, name)
	}
	t.mu.Unlock()

	out := make(map[string][]SourceHealth, len(names))
	for _, name := range names {
		out[name] = t.Snapshot(name)
	}

	return out
}

func (t *Tracker) notify(ev Event, h SourceHealth) {
	for _, o := range t.observers {
		o(ev, h)
	}
}

func key(endpoint, url string) uint64 {
	return xxhash.Sum64String(endpoint + "\x00" + url)
}
