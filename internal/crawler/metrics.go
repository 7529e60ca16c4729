package crawler

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesTotal        *prometheus.CounterVec
	bytesTotal        *prometheus.CounterVec
	documentsTotal    *prometheus.CounterVec
	fetchErrorsTotal  *prometheus.CounterVec
	robotsFetchTotal  *prometheus.CounterVec
	robotsDeniedTotal prometheus.Counter
	frontierSize      *prometheus.GaugeVec
	fetchDuration     *prometheus.HistogramVec

	metricsOnce sync.Once
)

// InitMetrics registers the Prometheus collectors for the crawl engine.
// Safe to call more than once.
func InitMetrics() {
	metricsOnce.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgscraper_pages_total",
				Help: "Pages processed, labeled by organization and outcome.",
			},
			[]string{"organization", "outcome"},
		)
		bytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgscraper_bytes_total",
				Help: "Bytes fetched, labeled by organization.",
			},
			[]string{"organization"},
		)
		documentsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgscraper_documents_total",
				Help: "Documents saved, labeled by organization.",
			},
			[]string{"organization"},
		)
		fetchErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgscraper_fetch_errors_total",
				Help: "Fetch failures after retries, labeled by organization.",
			},
			[]string{"organization"},
		)
		robotsFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orgscraper_robots_fetches_total",
				Help: "robots.txt fetches, labeled by host.",
			},
			[]string{"host"},
		)
		robotsDeniedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "orgscraper_robots_denied_total",
				Help: "URLs skipped because robots.txt disallowed them.",
			},
		)
		frontierSize = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "orgscraper_frontier_size",
				Help: "Queued frontier entries, labeled by organization.",
			},
			[]string{"organization"},
		)
		fetchDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orgscraper_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"organization"},
		)
	})
}

func observePage(org, outcome string, bytes int, seconds float64) {
	if pagesTotal == nil {
		return
	}
	pagesTotal.WithLabelValues(org, outcome).Inc()
	if bytes > 0 {
		bytesTotal.WithLabelValues(org).Add(float64(bytes))
	}
	if seconds > 0 {
		fetchDuration.WithLabelValues(org).Observe(seconds)
	}
}

func observeDocument(org string) {
	if documentsTotal == nil {
		return
	}
	documentsTotal.WithLabelValues(org).Inc()
}

func observeFetchError(org string) {
	if fetchErrorsTotal == nil {
		return
	}
	fetchErrorsTotal.WithLabelValues(org).Inc()
}

func observeRobotsFetch(host string) {
	if robotsFetchTotal == nil {
		return
	}
	robotsFetchTotal.WithLabelValues(host).Inc()
}

func observeRobotsDenied() {
	if robotsDeniedTotal == nil {
		return
	}
	robotsDeniedTotal.Inc()
}

func observeFrontierSize(org string, size int) {
	if frontierSize == nil {
		return
	}
	frontierSize.WithLabelValues(org).Set(float64(size))
}
