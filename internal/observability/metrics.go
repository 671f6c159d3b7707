// Package observability holds the Prometheus metrics for reservoir data acquisition
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters and histograms for sources, render sessions and the detail cache.
type Metrics struct {
	// Source fetches. labels: source={bursa,izmir-api,ibb,iski,aski,izsu}, outcome={success,empty,error}
	SourceFetches *prometheus.CounterVec

	// Render requests. labels: kind={value,list}, outcome={success,miss,superseded,timeout,canceled,error}
	RenderResolutions *prometheus.CounterVec
	RenderPollAttempts prometheus.Histogram

	// Aggregator detail cache. labels: result={hit,miss}
	DetailCache *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.SourceFetches,
		m.RenderResolutions,
		m.RenderPollAttempts,
		m.DetailCache,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, so tests can
// build as many as they like.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		SourceFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "suizim",
			Name:      "source_fetches_total",
			Help:      "Reservoir source fetches by source and outcome.",
		}, []string{"source", "outcome"}),
		RenderResolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "suizim",
			Name:      "render_resolutions_total",
			Help:      "Resolved render requests by kind and outcome.",
		}, []string{"kind", "outcome"}),
		RenderPollAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "suizim",
			Name:      "render_poll_attempts",
			Help:      "Readiness polls needed before extraction.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
		}),
		DetailCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "suizim",
			Name:      "detail_cache_total",
			Help:      "Aggregator detail cache lookups by result.",
		}, []string{"result"}),
	}
}

// ObserveFetch records a source fetch that returned n readings or failed.
func (m *Metrics) ObserveFetch(source string, n int, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case n == 0:
		outcome = "empty"
	}
	m.SourceFetches.WithLabelValues(source, outcome).Inc()
}
