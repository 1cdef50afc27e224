// Package metrics exposes Stone Ridge's pipeline counters for Prometheus
// scraping: per-queue depth, per-stage duration, deferral counts, active
// PCAP sessions, and DNS agent round-trip latency. Registry and collector
// wiring follows the standard client_golang registerer/collector pattern.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// defaultStageBuckets covers a worker stage's typical lifetime: seconds to
// a handful of minutes (the runner stage actually executes the browser
// test).
var defaultStageBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800}

// defaultDNSBuckets covers a DNS agent round trip in milliseconds.
var defaultDNSBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000}

// Collectors holds every Prometheus collector this pipeline reports.
type Collectors struct {
	registry *prometheus.Registry

	queueDepth     *prometheus.GaugeVec
	stageDuration  *prometheus.HistogramVec
	deferralsTotal *prometheus.CounterVec
	pcapSessions   prometheus.Gauge
	dnsRoundTripMs *prometheus.HistogramVec
}

// New builds a Collectors registered under namespace (typically
// "stoneridge").
func New(namespace string) *Collectors {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	c := &Collectors{
		registry: registry,

		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current number of entries waiting on a named queue.",
		}, []string{"queue"}),

		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Wall-clock duration of a worker pipeline stage.",
			Buckets:   defaultStageBuckets,
		}, []string{"stage"}),

		deferralsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deferrals_total",
			Help:      "Total number of runs deferred because an upstream build was not yet published.",
		}, []string{"netconfig"}),

		pcapSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pcap_sessions_active",
			Help:      "Number of currently running packet captures.",
		}),

		dnsRoundTripMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dns_round_trip_milliseconds",
			Help:      "Round-trip latency of a DNS agent HTTP call.",
			Buckets:   defaultDNSBuckets,
		}, []string{"operation"}),
	}

	registry.MustRegister(
		c.queueDepth,
		c.stageDuration,
		c.deferralsTotal,
		c.pcapSessions,
		c.dnsRoundTripMs,
	)
	return c
}

// Handler returns the promhttp handler for this Collectors' registry.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// SetQueueDepth records queue's current backlog.
func (c *Collectors) SetQueueDepth(queue string, depth float64) {
	c.queueDepth.WithLabelValues(queue).Set(depth)
}

// ObserveStageDuration records how long stage took, in seconds.
func (c *Collectors) ObserveStageDuration(stage string, seconds float64) {
	c.stageDuration.WithLabelValues(stage).Observe(seconds)
}

// IncDeferral records one deferred run for netconfig.
func (c *Collectors) IncDeferral(netconfig string) {
	c.deferralsTotal.WithLabelValues(netconfig).Inc()
}

// SetPCAPSessions records the current number of active packet captures.
func (c *Collectors) SetPCAPSessions(n float64) {
	c.pcapSessions.Set(n)
}

// ObserveDNSRoundTrip records a DNS agent call's latency in milliseconds.
func (c *Collectors) ObserveDNSRoundTrip(operation string, ms float64) {
	c.dnsRoundTripMs.WithLabelValues(operation).Observe(ms)
}
