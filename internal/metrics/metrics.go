// Package metrics exposes pipeline counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"showscrape/internal/model"
)

// Metrics owns its registry so several instances can coexist in tests.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	adapterRuns     *prometheus.CounterVec
	adapterDuration *prometheus.HistogramVec
	events          *prometheus.CounterVec
	tzFallbacks     prometheus.Counter
	drafts          *prometheus.CounterVec
	lookups         *prometheus.CounterVec
	pending         *prometheus.GaugeVec
	lastRun         prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}

	m.adapterRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "showscrape",
		Name:      "adapter_runs_total",
		Help:      "Adapter fetches by outcome",
	}, []string{"adapter", "status"})
	m.adapterDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "showscrape",
		Name:      "adapter_duration_seconds",
		Help:      "Time spent fetching and parsing one source",
		Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"adapter"})
	m.events = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "showscrape",
		Name:      "events_total",
		Help:      "Events passing each ingestion stage",
	}, []string{"stage"})
	m.tzFallbacks = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "showscrape",
		Name:      "timezone_fallbacks_total",
		Help:      "Events normalized with the default zone because theirs was unknown",
	})
	m.drafts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "showscrape",
		Name:      "drafts_total",
		Help:      "Composed drafts by kind and producer",
	}, []string{"kind", "source"})
	m.lookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "showscrape",
		Name:      "artist_lookups_total",
		Help:      "Artist metadata lookups by outcome",
	}, []string{"status"})
	m.pending = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "showscrape",
		Name:      "pending_events",
		Help:      "Unposted upcoming events per bucket at the last query",
	}, []string{"bucket"})
	m.lastRun = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "showscrape",
		Name:      "last_run_timestamp_seconds",
		Help:      "Unix timestamp of the last finished ingestion run",
	})

	m.reg.MustRegister(
		m.adapterRuns, m.adapterDuration, m.events, m.tzFallbacks,
		m.drafts, m.lookups, m.pending, m.lastRun,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry at /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) AdapterRun(adapter, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.adapterRuns.WithLabelValues(adapter, status).Inc()
	m.adapterDuration.WithLabelValues(adapter).Observe(d.Seconds())
}

// Events adds n to a stage counter: fetched, normalized, dropped or stored.
func (m *Metrics) Events(stage string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.events.WithLabelValues(stage).Add(float64(n))
}

func (m *Metrics) TimezoneFallback() {
	if m == nil {
		return
	}
	m.tzFallbacks.Inc()
}

func (m *Metrics) Draft(kind, source string) {
	if m == nil {
		return
	}
	m.drafts.WithLabelValues(kind, source).Inc()
}

func (m *Metrics) Lookup(status string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(status).Inc()
}

func (m *Metrics) Pending(b model.Buckets) {
	if m == nil {
		return
	}
	for _, k := range model.AllBuckets {
		m.pending.WithLabelValues(string(k)).Set(float64(len(b[k])))
	}
}

func (m *Metrics) RunFinished(t time.Time) {
	if m == nil {
		return
	}
	m.lastRun.Set(float64(t.Unix()))
}
