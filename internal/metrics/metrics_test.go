package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/gtpulse/internal/failover"
	"github.com/woozymasta/gtpulse/internal/health"
	"github.com/woozymasta/gtpulse/internal/registry"
)

func TestRecorder(t *testing.T) {
	r := New(false)
	src := registry.Source{Name: "GTID", URL: "http://gtid"}

	r.ObserveAttempt(failover.Attempt{Endpoint: "banData", Source: src, Elapsed: time.Second})
	r.ObserveAttempt(failover.Attempt{Endpoint: "banData", Source: src, Err: errors.New("x")})
	r.ObserveAttempt(failover.Attempt{Endpoint: "banData", Source: src, Err: errors.New("x")})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.attempts.WithLabelValues("banData", "GTID", "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.attempts.WithLabelValues("banData", "GTID", "failure")))

	r.Seed(map[string][]health.SourceHealth{"banData": {{Endpoint: "banData", Name: "GTID", Healthy: true}}})
	assert.Equal(t, 1.0, testutil.ToFloat64(r.healthy.WithLabelValues("banData", "GTID")))

	r.ObserveHealth(health.Degraded, health.SourceHealth{Endpoint: "banData", Name: "GTID"})
	assert.Equal(t, 0.0, testutil.ToFloat64(r.healthy.WithLabelValues("banData", "GTID")))

	r.ObserveRead("banData", "stale")
	assert.Equal(t, 1.0, testutil.ToFloat64(r.reads.WithLabelValues("banData", "stale")))

	r.ObservePlayers(12345)
	assert.Equal(t, 12345.0, testutil.ToFloat64(r.samples))
}

func TestHandler(t *testing.T) {
	r := New(true)
	r.ObserveRead("mods", "fresh")

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `gtpulse_data_reads_total{endpoint="mods",outcome="fresh"} 1`)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
