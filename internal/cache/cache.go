// Package cache keeps the last known good payload of every endpoint.
package cache

import (
	"sync"
	"time"

	"github.com/woozymasta/gtpulse/internal/fetch"
)

// Entry is the cached state of one endpoint. A zero FetchedAt means the
// endpoint was never fetched or was cleared.
type Entry struct {
	FetchedAt time.Time
	Payload   fetch.Payload
	Source    string
}

// HasData reports whether the entry holds a value.
func (e Entry) HasData() bool {
	return e.Payload != nil
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the wall clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store holds one entry per endpoint. Entries are only overwritten by Put
// and only emptied by Clear.
type Store struct {
	now     func() time.Time
	entries map[string]Entry
	mu      sync.RWMutex
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		now:     time.Now,
		entries: make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Get returns the entry of an endpoint.
func (s *Store) Get(endpoint string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[endpoint]
	return e, ok && e.HasData()
}

// NeedsRefresh reports whether a fetch is due: forced, nothing cached, or
// strictly more than interval elapsed since the last successful fetch.
func (s *Store) NeedsRefresh(endpoint string, interval time.Duration, force bool) bool {
	if force {
		return true
	}

	_, ok := s.Fresh(endpoint, interval)
	return !ok
}

// Fresh returns the entry when it holds data fetched no more than interval
// ago. Presence and age come from a single read.
func (s *Store) Fresh(endpoint string, interval time.Duration) (Entry, bool) {
	e, ok := s.Get(endpoint)
	if !ok || s.now().Sub(e.FetchedAt) > interval {
		return Entry{}, false
	}

	return e, true
}

// Put records a successful fetch and returns the stored entry.
func (s *Store) Put(endpoint string, payload fetch.Payload, source string) Entry {
	e := Entry{Payload: payload, Source: source, FetchedAt: s.now()}

	s.mu.Lock()
	s.entries[endpoint] = e
	s.mu.Unlock()

	return e
}

// Clear empties the named entries, or every entry when none are named.
func (s *Store) Clear(endpoints ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(endpoints) == 0 {
		clear(s.entries)
		return
	}
	for _, name := range endpoints {
		delete(s.entries, name)
	}
}

// Age returns how long ago the endpoint was fetched; zero when it holds no data.
func (s *Store) Age(endpoint string) time.Duration {
	e, ok := s.Get(endpoint)
	if !ok {
		return 0
	}

	return s.now().Sub(e.FetchedAt)
}
