package reliability

import (
	"context"
	"time"

	"github.com/woozymasta/gtpulse/internal/failover"
	"github.com/woozymasta/gtpulse/internal/fetch"
	"github.com/woozymasta/gtpulse/internal/health"
)

// HealthStatus returns the raw health records of every endpoint.
func (l *Layer) HealthStatus() map[string][]health.SourceHealth {
	return l.tracker.All()
}

// SourceSummary is the operator view of one source.
type SourceSummary struct {
	LastSuccess         *time.Time `json:"last_success"`
	LastFailure         *time.Time `json:"last_failure"`
	Name                string     `json:"name"`
	URL                 string     `json:"url"`
	SuccessCount        int64      `json:"success_count"`
	FailureCount        int64      `json:"failure_count"`
	ResponseTimeMs      int64      `json:"response_time_ms"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	Healthy             bool       `json:"is_healthy"`
}

// EndpointSummary groups the source summaries of one endpoint.
type EndpointSummary struct {
	LastHealthyPrimary *time.Time      `json:"last_healthy_primary,omitempty"`
	Sources            []SourceSummary `json:"sources"`
	Healthy            int             `json:"healthy"`
}

// HealthSummary returns a compact per-endpoint view with nil times for
// events that never happened.
func (l *Layer) HealthSummary() map[string]EndpointSummary {
	out := make(map[string]EndpointSummary)

	for _, ep := range l.reg.Endpoints() {
		var sum EndpointSummary
		for _, h := range l.tracker.Snapshot(ep.Name) {
			sum.Sources = append(sum.Sources, SourceSummary{
				Name:                h.Name,
				URL:                 h.URL,
				Healthy:             h.Healthy,
				SuccessCount:        h.SuccessCount,
				FailureCount:        h.FailureCount,
				ConsecutiveFailures: h.ConsecutiveFailures,
				ResponseTimeMs:      h.LastResponseTime.Milliseconds(),
				LastSuccess:         optTime(h.LastSuccess),
				LastFailure:         optTime(h.LastFailure),
			})
			if h.Healthy {
				sum.Healthy++
			}
		}
		if t, ok := l.orch.LastHealthyPrimary(ep.Name); ok {
			sum.LastHealthyPrimary = optTime(t)
		}

		out[ep.Name] = sum
	}

	return out
}

// CacheStatus is the cache view of one endpoint.
type CacheStatus struct {
	LastFetch    *time.Time            `json:"last_fetch"`
	Source       string                `json:"source,omitempty"`
	URLs         []string              `json:"urls"`
	Health       []health.SourceHealth `json:"health"`
	Interval     time.Duration         `json:"-"`
	IntervalMs   int64                 `json:"interval_ms"`
	AgeMs        int64                 `json:"age_ms"`
	TotalSources int                   `json:"total_sources"`
	HasData      bool                  `json:"has_data"`
	Stale        bool                  `json:"stale"`
}

// CacheStatus reports every endpoint's cache age, sources and health.
// Age is zero for endpoints holding no data.
func (l *Layer) CacheStatus() map[string]CacheStatus {
	out := make(map[string]CacheStatus)

	for _, ep := range l.reg.Endpoints() {
		st := CacheStatus{
			URLs:         ep.URLs(),
			Health:       l.tracker.Snapshot(ep.Name),
			Interval:     ep.Interval,
			IntervalMs:   ep.Interval.Milliseconds(),
			TotalSources: len(ep.Sources),
		}
		if e, ok := l.store.Get(ep.Name); ok {
			age := l.store.Age(ep.Name)
			st.HasData = true
			st.Source = e.Source
			st.LastFetch = optTime(e.FetchedAt)
			st.AgeMs = age.Milliseconds()
			st.Stale = age > ep.Interval
		}

		out[ep.Name] = st
	}

	return out
}

// SourceResult is one source's answer in a comparison.
type SourceResult struct {
	Payload fetch.Payload `json:"data,omitempty"`
	Name    string        `json:"name"`
	URL     string        `json:"url"`
	Error   string        `json:"error,omitempty"`
	OK      bool          `json:"ok"`
}

// Comparison is a diagnostic gather of every source of one endpoint.
type Comparison struct {
	Chosen   *failover.Choice `json:"chosen"`
	Endpoint string           `json:"endpoint"`
	Results  []SourceResult   `json:"results"`
}

// CompareSources queries all sources of an endpoint and reconciles their
// answers. It does not touch the cache.
func (l *Layer) CompareSources(ctx context.Context, name string) (Comparison, error) {
	ep, err := l.reg.Get(name)
	if err != nil {
		return Comparison{}, err
	}

	results, err := l.orch.Gather(ctx, ep.Name, fetch.Request{})
	if err != nil {
		return Comparison{}, err
	}

	cmp := Comparison{Endpoint: ep.Name, Results: make([]SourceResult, len(results))}
	for i, r := range results {
		sr := SourceResult{Name: r.Source.Name, URL: r.Source.URL, OK: r.Err == nil, Payload: r.Payload}
		if r.Err != nil {
			sr.Error = r.Err.Error()
		}
		cmp.Results[i] = sr
	}

	if choice, ok := failover.Reconcile(ep, results, l.cfg.ClockSkew); ok {
		cmp.Chosen = &choice
		l.log.Info().
			Str("endpoint", ep.Name).
			Str("source", choice.Source.Name).
			Str("reason", choice.Reason).
			Msg("Reconciled source answers")
	}

	return cmp, nil
}

func optTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}

	return &t
}
