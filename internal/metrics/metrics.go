package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "potd"

// Metrics holds the collectors for scrape runs and API traffic.
type Metrics struct {
	registry *prometheus.Registry

	runs            *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
	lastSuccess     prometheus.Gauge
	downloadedBytes prometheus.Histogram
	triggers        prometheus.Counter
	requests        *prometheus.CounterVec
	variantCache    *prometheus.CounterVec
}

// New creates the collectors on a private registry that also exposes the Go
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scraper",
			Name:      "runs_total",
			Help:      "Scrape runs by outcome",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scraper",
			Name:      "run_duration_seconds",
			Help:      "Time spent in a scrape run",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"outcome"}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scraper",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix timestamp of the last run that stored a picture",
		}),
		downloadedBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scraper",
			Name:      "downloaded_bytes",
			Help:      "Size of downloaded source images",
			Buckets:   prometheus.ExponentialBuckets(64*1024, 2, 10),
		}),
		triggers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scraper",
			Name:      "triggered_total",
			Help:      "Manually triggered scrape runs",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "API requests by type",
		}, []string{"type"}),
		variantCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "variant_cache_total",
			Help:      "Rendered variant lookups by result",
		}, []string{"result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.runs, m.runDuration, m.lastSuccess, m.downloadedBytes,
		m.triggers, m.requests, m.variantCache,
	)
	return m
}

func (m *Metrics) ObserveRun(outcome string, elapsed time.Duration) {
	m.runs.WithLabelValues(outcome).Inc()
	m.runDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) SetLastSuccess(t time.Time) {
	m.lastSuccess.Set(float64(t.Unix()))
}

func (m *Metrics) ObserveDownload(size int) {
	m.downloadedBytes.Observe(float64(size))
}

func (m *Metrics) IncTriggered() {
	m.triggers.Inc()
}

func (m *Metrics) IncRequest(kind string) {
	m.requests.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveVariantCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.variantCache.WithLabelValues(result).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
