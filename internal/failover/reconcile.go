package failover

import (
	"strconv"
	"strings"
	"time"

	"github.com/itlightning/dateparse"
	"github.com/woozymasta/gtpulse/internal/fetch"
	"github.com/woozymasta/gtpulse/internal/registry"
)

// DefaultClockSkew is how far a source timestamp may run ahead of the local
// fetch time before it is distrusted.
const DefaultClockSkew = 5 * time.Second

// Choice is the reconciled answer of a gather.
type Choice struct {
	Timestamp time.Time       `json:"timestamp"`
	Payload   fetch.Payload   `json:"data"`
	Label     string          `json:"source"`
	Reason    string          `json:"reason"`
	Source    registry.Source `json:"-"`
}

// Reconcile picks one answer among the successful results using the
// endpoint's reconcile mode:
//
//   - timestamp: the primary source wins while its timestamp is strictly
//     less than Window behind the newest result, otherwise the newest wins.
//   - roster: the primary source wins whenever it returned any data,
//     otherwise the first successful result.
//   - default: the first successful result.
//
// It reports false when no result succeeded.
func Reconcile(ep *registry.Endpoint, results []Result, skew time.Duration) (Choice, bool) {
	ok := make([]Result, 0, len(results))
	for _, r := range results {
		if r.Err == nil && r.Payload != nil {
			ok = append(ok, r)
		}
	}
	if len(ok) == 0 {
		return Choice{}, false
	}

	rule := ep.Reconcile
	switch rule.Mode {
	case registry.ReconcileTimestamp:
		stamps := make([]time.Time, len(ok))
		newest := 0
		for i, r := range ok {
			stamps[i] = Timestamp(r.Payload, rule.TimestampField, r.FetchedAt, skew)
			if stamps[i].After(stamps[newest]) {
				newest = i
			}
		}

		for i, r := range ok {
			if r.Source.Name == rule.Primary && stamps[newest].Sub(stamps[i]) < rule.Window {
				return choose(r, stamps[i], "primary within window"), true
			}
		}

		return choose(ok[newest], stamps[newest], "most recent"), true

	case registry.ReconcileRoster:
		for _, r := range ok {
			if r.Source.Name == rule.Primary && r.Payload != nil {
				return choose(r, r.FetchedAt, "primary"), true
			}
		}

		return choose(ok[0], ok[0].FetchedAt, "fallback"), true
	}

	return choose(ok[0], ok[0].FetchedAt, "first"), true
}

func choose(r Result, ts time.Time, reason string) Choice {
	return Choice{
		Payload:   r.Payload,
		Source:    r.Source,
		Label:     r.Source.Label(),
		Timestamp: ts,
		Reason:    reason,
	}
}

// Timestamp returns the canonical UTC time of a payload.
//
// The field may hold an epoch number (seconds or milliseconds) or any date
// string dateparse understands; zone-less strings are read as UTC. Missing or
// unparsable values fall back to fetchedAt, and values more than skew ahead
// of fetchedAt are clamped to it.
func Timestamp(p fetch.Payload, field string, fetchedAt time.Time, skew time.Duration) time.Time {
	fetchedAt = fetchedAt.UTC()
	if field == "" {
		return fetchedAt
	}

	ts, ok := parseStamp(p[field])
	if !ok {
		return fetchedAt
	}
	if ts.After(fetchedAt.Add(skew)) {
		return fetchedAt
	}

	return ts
}

func parseStamp(v any) (time.Time, bool) {
	switch x := v.(type) {
	case float64:
		return epoch(x), x > 0
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return epoch(f), f > 0
		}
		t, err := dateparse.ParseIn(s, time.UTC)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	}

	return time.Time{}, false
}

// epoch interprets values above 1e12 as milliseconds.
func epoch(f float64) time.Time {
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}

	return time.Unix(int64(f), 0).UTC()
}
