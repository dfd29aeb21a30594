package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/gtpulse/internal/config"
	"github.com/woozymasta/gtpulse/internal/fetch"
	"github.com/woozymasta/gtpulse/internal/health"
	"github.com/woozymasta/gtpulse/internal/monitor"
	"github.com/woozymasta/gtpulse/internal/pricing"
	"github.com/woozymasta/gtpulse/internal/registry"
	"github.com/woozymasta/gtpulse/internal/reliability"
	"github.com/woozymasta/gtpulse/internal/storage"
)

const token = "secret"

type fakeLayer struct {
	reg     *registry.Registry
	data    map[string]*reliability.Data
	cleared [][]string
	forced  bool
}

func (f *fakeLayer) Registry() *registry.Registry { return f.reg }

func (f *fakeLayer) GetData(_ context.Context, name string, opts reliability.Options) *reliability.Data {
	f.forced = opts.ForceRefresh
	return f.data[name]
}

func (f *fakeLayer) GetCombinedPlayerData(context.Context) reliability.PlayerData {
	return reliability.PlayerData{
		LastUpdated: "2026-01-01T00:00:00.000Z",
		Sources:     reliability.PlayerSources{PlayerCount: "Official Growtopia", BanRate: "GTID"},
		OnlineUser:  42000,
		BanRate:     0.5,
	}
}

func (f *fakeLayer) HealthStatus() map[string][]health.SourceHealth {
	return map[string][]health.SourceHealth{"banData": {{URL: "http://gtid", Healthy: true}}}
}

func (f *fakeLayer) HealthSummary() map[string]reliability.EndpointSummary {
	return map[string]reliability.EndpointSummary{"banData": {Healthy: 1}}
}

func (f *fakeLayer) CacheStatus() map[string]reliability.CacheStatus {
	return map[string]reliability.CacheStatus{"banData": {HasData: true}}
}

func (f *fakeLayer) ClearCache(names ...string) error {
	for _, n := range names {
		if _, err := f.reg.Get(n); err != nil {
			return err
		}
	}
	f.cleared = append(f.cleared, names)
	return nil
}

func (f *fakeLayer) CompareSources(_ context.Context, name string) (reliability.Comparison, error) {
	if _, err := f.reg.Get(name); err != nil {
		return reliability.Comparison{}, err
	}
	if name == "mods" {
		return reliability.Comparison{}, errors.New("all down")
	}
	return reliability.Comparison{Endpoint: name}, nil
}

type fakeHistory struct {
	since time.Time
	limit int
	kind  string
}

func (f *fakeHistory) RecentSamples(_ context.Context, since time.Time, limit int) ([]storage.Sample, error) {
	f.since, f.limit = since, limit
	return nil, nil
}

func (f *fakeHistory) RecentEvents(_ context.Context, kind string, limit int) ([]storage.Event, error) {
	f.kind, f.limit = kind, limit
	return []storage.Event{{Kind: kind, Players: 10}}, nil
}

type fakeMonitor struct{}

func (fakeMonitor) Status() monitor.Status { return monitor.Status{Players: 7, Checks: 3} }

type fakePrices struct{}

func (fakePrices) Current() pricing.Snapshot {
	return pricing.Snapshot{DL: pricing.Price{Rp: "3,500"}}
}

type fixture struct {
	layer   *fakeLayer
	handler http.Handler
	srv     *Server
}

func newFixture(t *testing.T, deps Deps, rl config.RateLimit) *fixture {
	t.Helper()

	reg, err := registry.New(time.Minute,
		registry.Endpoint{Name: "banData", Sources: []registry.Source{{Name: "GTID", URL: "http://gtid"}}},
		registry.Endpoint{Name: "mods", Sources: []registry.Source{{Name: "GTID", URL: "http://gtid/mods"}}},
	)
	require.NoError(t, err)

	f := &fixture{
		layer: &fakeLayer{
			reg: reg,
			data: map[string]*reliability.Data{
				"banData": {Payload: fetch.Payload{"banRate": 0.5}, Source: "http://gtid"},
			},
		},
	}
	if deps.Reliability == nil {
		deps.Reliability = f.layer
	}

	cfg := &config.Config{Server: config.Server{AuthToken: token}, RateLimit: rl}
	f.srv = New(deps, cfg)
	f.srv.now = func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }
	f.handler = f.srv.Run()
	t.Cleanup(f.srv.Stop)

	return f
}

func (f *fixture) do(method, target string, auth bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if auth {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestAdminRoutesRequireToken(t *testing.T) {
	f := newFixture(t, Deps{}, config.RateLimit{})

	for _, target := range []string{"/api/health", "/api/cache", "/api/players", "/api/data/banData"} {
		rec := f.do(http.MethodGet, target, false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, target)
	}

	rec := f.do(http.MethodGet, "/api/version", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version"`)
}

func TestDataRoute(t *testing.T) {
	f := newFixture(t, Deps{}, config.RateLimit{})

	rec := f.do(http.MethodGet, "/api/data/banData?refresh=1", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, f.layer.forced)

	var got reliability.Data
	decode(t, rec, &got)
	assert.Equal(t, "http://gtid", got.Source)
	assert.InDelta(t, 0.5, got.Payload["banRate"], 1e-9)

	rec = f.do(http.MethodGet, "/api/data/mods", true)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, f.layer.forced)

	rec = f.do(http.MethodGet, "/api/data/nope", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClearCacheRoute(t *testing.T) {
	f := newFixture(t, Deps{}, config.RateLimit{})

	rec := f.do(http.MethodDelete, "/api/cache?endpoint=banData,mods", true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodDelete, "/api/cache", true)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status  string   `json:"status"`
		Cleared []string `json:"cleared"`
	}
	decode(t, rec, &body)
	assert.Equal(t, []string{"banData", "mods"}, body.Cleared)

	rec = f.do(http.MethodDelete, "/api/cache?endpoint=nope", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, [][]string{{"banData", "mods"}, nil}, f.layer.cleared)
}

func TestCompareRoute(t *testing.T) {
	f := newFixture(t, Deps{}, config.RateLimit{})

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/compare/banData", true).Code)
	assert.Equal(t, http.StatusBadGateway, f.do(http.MethodGet, "/api/compare/mods", true).Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/compare/nope", true).Code)
}

func TestStatusRoutes(t *testing.T) {
	f := newFixture(t, Deps{}, config.RateLimit{})

	rec := f.do(http.MethodGet, "/api/players", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var pd reliability.PlayerData
	decode(t, rec, &pd)
	assert.Equal(t, 42000, pd.OnlineUser)
	assert.Equal(t, "GTID", pd.Sources.BanRate)

	for _, target := range []string{"/api/health", "/api/health/summary", "/api/cache"} {
		rec := f.do(http.MethodGet, target, true)
		assert.Equal(t, http.StatusOK, rec.Code, target)
		assert.Contains(t, rec.Body.String(), "banData", target)
	}
}

func TestOptionalRoutesDisabled(t *testing.T) {
	f := newFixture(t, Deps{}, config.RateLimit{})

	for _, target := range []string{"/api/samples", "/api/events", "/api/monitor", "/api/prices", "/metrics"} {
		assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, target, true).Code, target)
	}
}

func TestHistoryRoutes(t *testing.T) {
	history := &fakeHistory{}
	f := newFixture(t, Deps{History: history, Monitor: fakeMonitor{}, Prices: fakePrices{}}, config.RateLimit{})

	rec := f.do(http.MethodGet, "/api/samples?since=6h&limit=5000", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
	assert.Equal(t, time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC), history.since)
	assert.Equal(t, maxLimit, history.limit)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/samples?since=soon", true).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/events?limit=-1", true).Code)

	rec = f.do(http.MethodGet, "/api/events?kind=banwave", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "banwave", history.kind)
	assert.Equal(t, defaultLimit, history.limit)

	rec = f.do(http.MethodGet, "/api/monitor", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"players":7`)

	rec = f.do(http.MethodGet, "/api/prices", true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"rp":"3,500"`)
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("gtpulse_up 1\n"))
	})
	f := newFixture(t, Deps{Metrics: metrics}, config.RateLimit{})

	rec := f.do(http.MethodGet, "/metrics", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gtpulse_up 1\n", rec.Body.String())
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Deps{}, config.RateLimit{Rate: 0.001, Burst: 2})

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/version", false).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/version", false).Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(http.MethodGet, "/api/version", false).Code)
}

func TestGetRealIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")

	assert.Equal(t, "10.0.0.1", GetRealIP(req, false))
	assert.Equal(t, "1.2.3.4", GetRealIP(req, true))

	req.Header.Set("CF-Connecting-IP", "5.6.7.8")
	assert.Equal(t, "5.6.7.8", GetRealIP(req, true))
}
