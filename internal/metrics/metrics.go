// Package metrics exports fetch, health and cache activity to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/woozymasta/gtpulse/internal/failover"
	"github.com/woozymasta/gtpulse/internal/health"
)

const namespace = "gtpulse"

// Recorder owns a private registry so tests and multiple instances never
// collide on the default one.
type Recorder struct {
	registry *prometheus.Registry
	attempts *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	healthy  *prometheus.GaugeVec
	reads    *prometheus.CounterVec
	samples  prometheus.Gauge
}

// New creates and registers all collectors. Process and Go runtime
// collectors are included when runtime is true.
func New(runtime bool) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_attempts_total",
			Help:      "Source fetch attempts by result.",
		}, []string{"endpoint", "source", "result"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_attempt_seconds",
			Help:      "Duration of source fetches including retries.",
			Buckets:   []float64{.1, .25, .5, 1, 2, 4, 8, 16, 32},
		}, []string{"endpoint", "source"}),
		healthy: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_healthy",
			Help:      "1 when the source is considered healthy.",
		}, []string{"endpoint", "source"}),
		reads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_reads_total",
			Help:      "Endpoint reads by outcome.",
		}, []string{"endpoint", "outcome"}),
		samples: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_players",
			Help:      "Last observed online player count.",
		}),
	}

	r.registry.MustRegister(r.attempts, r.latency, r.healthy, r.reads, r.samples)
	if runtime {
		r.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return r
}

// Seed marks every tracked source healthy so the gauge exists before the
// first attempt.
func (r *Recorder) Seed(all map[string][]health.SourceHealth) {
	for endpoint, sources := range all {
		for _, s := range sources {
			r.healthy.WithLabelValues(endpoint, s.Name).Set(boolFloat(s.Healthy))
		}
	}
}

// ObserveAttempt is a failover attempt hook.
func (r *Recorder) ObserveAttempt(a failover.Attempt) {
	result := "success"
	if a.Err != nil {
		result = "failure"
	}

	r.attempts.WithLabelValues(a.Endpoint, a.Source.Name, result).Inc()
	r.latency.WithLabelValues(a.Endpoint, a.Source.Name).Observe(a.Elapsed.Seconds())
}

// ObserveHealth is a health tracker observer.
func (r *Recorder) ObserveHealth(_ health.Event, h health.SourceHealth) {
	r.healthy.WithLabelValues(h.Endpoint, h.Name).Set(boolFloat(h.Healthy))
}

// ObserveRead counts one data read by its outcome.
func (r *Recorder) ObserveRead(endpoint, outcome string) {
	r.reads.WithLabelValues(endpoint, outcome).Inc()
}

// ObservePlayers records the latest player count.
func (r *Recorder) ObservePlayers(count int) {
	r.samples.Set(float64(count))
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}

	return 0
}
