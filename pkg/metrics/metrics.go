// Package metrics exposes the Prometheus collectors of the navigator server.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the server
type Metrics struct {
	// HTTP
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec

	// Catalog
	CacheReloads    prometheus.Counter
	Searches        prometheus.Counter
	SearchResults   prometheus.Histogram
	ToolViews       prometheus.Counter
	Submissions     prometheus.Counter
	CatalogWrites   *prometheus.CounterVec
	SearchIndexErrs prometheus.Counter

	// Crawler
	CrawlerRuns      *prometheus.CounterVec
	CrawlerImported  *prometheus.CounterVec
	CrawlerDuration  prometheus.Histogram
	CrawlerLLMTokens *prometheus.CounterVec

	StartTime prometheus.Gauge
}

var (
	metrics     *Metrics
	metricsOnce sync.Once
)

// Get returns the process-wide Metrics, registering it on first use.
func Get() *Metrics {
	metricsOnce.Do(func() {
		metrics = newMetrics()
		metrics.StartTime.Set(float64(time.Now().Unix()))
	})
	return metrics
}

func newMetrics() *Metrics {
	return &Metrics{
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "navigator_http_requests_total",
			Help: "HTTP requests by route, method and status",
		}, []string{"route", "method", "status"}),
		HTTPLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "navigator_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),

		CacheReloads: promauto.NewCounter(prometheus.CounterOpts{
			Name: "navigator_cache_reloads_total",
			Help: "Catalog cache reloads from storage",
		}),
		Searches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "navigator_searches_total",
			Help: "Catalog searches served",
		}),
		SearchResults: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "navigator_search_results",
			Help:    "Number of tools returned per search",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100},
		}),
		ToolViews: promauto.NewCounter(prometheus.CounterOpts{
			Name: "navigator_tool_views_total",
			Help: "Tool detail views",
		}),
		Submissions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "navigator_submissions_total",
			Help: "Tools submitted through the public form",
		}),
		CatalogWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "navigator_catalog_writes_total",
			Help: "Catalog mutations by entity and action",
		}, []string{"entity", "action"}),
		SearchIndexErrs: promauto.NewCounter(prometheus.CounterOpts{
			Name: "navigator_search_index_errors_total",
			Help: "Failed search index operations",
		}),

		CrawlerRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "navigator_crawler_runs_total",
			Help: "Crawler runs by outcome",
		}, []string{"status"}),
		CrawlerImported: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "navigator_crawler_tools_total",
			Help: "Crawled tools by import result",
		}, []string{"result"}),
		CrawlerDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "navigator_crawler_run_duration_seconds",
			Help:    "Crawler run duration",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		CrawlerLLMTokens: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "navigator_crawler_llm_tokens_total",
			Help: "Tokens consumed per LLM provider",
		}, []string{"provider"}),

		StartTime: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "navigator_start_time_seconds",
			Help: "Unix time the server started",
		}),
	}
}

// ObserveHTTP records one finished request.
func (m *Metrics) ObserveHTTP(route, method string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(route, method, statusClass(status)).Inc()
	m.HTTPLatency.WithLabelValues(route, method).Observe(d.Seconds())
}

// ObserveSearch records one search and its result size.
func (m *Metrics) ObserveSearch(results int) {
	m.Searches.Inc()
	m.SearchResults.Observe(float64(results))
}

// ObserveCrawl records one crawler run.
func (m *Metrics) ObserveCrawl(status string, added, merged, skipped int, d time.Duration) {
	m.CrawlerRuns.WithLabelValues(status).Inc()
	m.CrawlerImported.WithLabelValues("added").Add(float64(added))
	m.CrawlerImported.WithLabelValues("merged").Add(float64(merged))
	m.CrawlerImported.WithLabelValues("skipped").Add(float64(skipped))
	m.CrawlerDuration.Observe(d.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
