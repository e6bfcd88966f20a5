// Package metrics defines the Prometheus collectors for the service and
// exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Search outcomes
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
	// OutcomeInvalid marks requests rejected before execution, e.g. bad query syntax.
	OutcomeInvalid = "invalid"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	SearchQueriesTotal   *prometheus.CounterVec
	SearchLatency        *prometheus.HistogramVec
	SearchResultsCount   prometheus.Histogram
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	IngestRunsTotal      *prometheus.CounterVec
	IngestDuration       prometheus.Histogram
	DocsIndexedTotal     prometheus.Counter
	IndexGeneration      prometheus.Gauge
	IndexDocuments       prometheus.Gauge
	CrossRefTotal        *prometheus.CounterVec
	ProjectsGenerated    *prometheus.CounterVec
	WatchEventsTotal     prometheus.Counter
}

// New creates the collectors and registers them on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codegrok_http_requests_total",
				Help: "Total number of HTTP requests by method, route, and status.",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codegrok_http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 30},
			},
			[]string{"method", "route"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "codegrok_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		SearchQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codegrok_search_queries_total",
				Help: "Total search queries by outcome (ok, invalid, error).",
			},
			[]string{"outcome"},
		),
		SearchLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codegrok_search_latency_seconds",
				Help:    "Search query latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"cache_status"},
		),
		SearchResultsCount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "codegrok_search_results_count",
				Help:    "Number of results returned per search query.",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "codegrok_search_cache_hits_total",
				Help: "Total number of search result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "codegrok_search_cache_misses_total",
				Help: "Total number of search result cache misses.",
			},
		),
		IngestRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codegrok_ingest_runs_total",
				Help: "Total ingestion runs by outcome.",
			},
			[]string{"outcome"},
		),
		IngestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "codegrok_ingest_duration_seconds",
				Help:    "Duration of successful ingestion runs in seconds.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
		),
		DocsIndexedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "codegrok_docs_indexed_total",
				Help: "Total documents written by ingestion runs.",
			},
		),
		IndexGeneration: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "codegrok_index_generation",
				Help: "Generation number of the published index.",
			},
		),
		IndexDocuments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "codegrok_index_documents",
				Help: "Number of documents in the published index.",
			},
		),
		CrossRefTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codegrok_crossref_lookups_total",
				Help: "Total cross-reference lookups by outcome.",
			},
			[]string{"outcome"},
		),
		ProjectsGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codegrok_projects_generated_total",
				Help: "Total scaffolding requests by template and outcome.",
			},
			[]string{"template", "outcome"},
		),
		WatchEventsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "codegrok_watch_events_total",
				Help: "Total debounced file change batches that triggered a reindex.",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.SearchQueriesTotal,
		m.SearchLatency,
		m.SearchResultsCount,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.IngestRunsTotal,
		m.IngestDuration,
		m.DocsIndexedTotal,
		m.IndexGeneration,
		m.IndexDocuments,
		m.CrossRefTotal,
		m.ProjectsGenerated,
		m.WatchEventsTotal,
	)

	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus scrape HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSearch records one search. cacheStatus is "hit" or "miss".
func (m *Metrics) ObserveSearch(outcome, cacheStatus string, results int, d time.Duration) {
	if m == nil {
		return
	}
	m.SearchQueriesTotal.WithLabelValues(outcome).Inc()
	if outcome != OutcomeOK {
		return
	}
	m.SearchLatency.WithLabelValues(cacheStatus).Observe(d.Seconds())
	m.SearchResultsCount.Observe(float64(results))
}

// CacheHit counts a search result cache hit.
func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheHitsTotal.Inc()
	}
}

// CacheMiss counts a search result cache miss.
func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheMissesTotal.Inc()
	}
}

// ObserveIngest records one ingestion run.
func (m *Metrics) ObserveIngest(outcome string, indexed int, d time.Duration) {
	if m == nil {
		return
	}
	m.IngestRunsTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK {
		m.IngestDuration.Observe(d.Seconds())
		m.DocsIndexedTotal.Add(float64(indexed))
	}
}

// SetIndexState publishes the current generation and its document count.
func (m *Metrics) SetIndexState(generation, documents uint64) {
	if m == nil {
		return
	}
	m.IndexGeneration.Set(float64(generation))
	m.IndexDocuments.Set(float64(documents))
}

// ObserveCrossRef records one cross-reference lookup.
func (m *Metrics) ObserveCrossRef(outcome string) {
	if m != nil {
		m.CrossRefTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveGenerate records one scaffolding request.
func (m *Metrics) ObserveGenerate(template, outcome string) {
	if m != nil {
		m.ProjectsGenerated.WithLabelValues(template, outcome).Inc()
	}
}

// WatchTriggered counts a debounced change batch.
func (m *Metrics) WatchTriggered() {
	if m != nil {
		m.WatchEventsTotal.Inc()
	}
}
