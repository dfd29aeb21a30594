// Package priority orders an endpoint's candidate sources for a fetch.
package priority

import (
	"sort"

	"github.com/woozymasta/gtpulse/internal/health"
	"github.com/woozymasta/gtpulse/internal/registry"
)

// Order returns the endpoint's sources in the order they should be attempted.
//
// The affinity-preferred source goes first when it is healthy or when it was
// just granted a second chance. The remaining order is healthy before
// unhealthy, healthy by ascending last latency, unhealthy by most recent
// success, and configured order for ties. Order does not mutate state.
func Order(ep *registry.Endpoint, states []health.SourceHealth, secondChance bool) []registry.Source {
	byURL := make(map[string]health.SourceHealth, len(states))
	for _, s := range states {
		byURL[s.URL] = s
	}

	type candidate struct {
		src   registry.Source
		state health.SourceHealth
	}

	cands := make([]candidate, len(ep.Sources))
	for i, src := range ep.Sources {
		st, ok := byURL[src.URL]
		if !ok {
			st = health.SourceHealth{URL: src.URL, Name: src.Name, Healthy: true}
		}
		cands[i] = candidate{src: src, state: st}
	}

	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i].state, cands[j].state
		if a.Healthy != b.Healthy {
			return a.Healthy
		}
		if a.Healthy {
			return a.LastResponseTime < b.LastResponseTime
		}

		return a.LastSuccess.After(b.LastSuccess)
	})

	out := make([]registry.Source, len(cands))
	for i, c := range cands {
		out[i] = c.src
	}

	if ep.Affinity == nil {
		return out
	}

	for i, c := range cands {
		if c.src.Name != ep.Affinity.Prefer {
			continue
		}
		if i > 0 && (c.state.Healthy || secondChance) {
			copy(out[1:i+1], out[:i])
			out[0] = c.src
		}
		break
	}

	return out
}
