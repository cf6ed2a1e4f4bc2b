package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	SubmissionsTotal    = prometheus.NewCounter(prometheus.CounterOpts{Name: "analyses_submitted_total", Help: "Analysis submissions accepted"})
	DedupHits           = prometheus.NewCounter(prometheus.CounterOpts{Name: "analyses_dedup_hits_total", Help: "Submissions answered by an existing recent job"})
	CacheHits           = prometheus.NewCounter(prometheus.CounterOpts{Name: "analyses_cache_hits_total", Help: "Results served from the fingerprint cache"})
	CacheMisses         = prometheus.NewCounter(prometheus.CounterOpts{Name: "analyses_cache_misses_total", Help: "Cache lookups that missed"})
	AnalysesCompleted   = prometheus.NewCounter(prometheus.CounterOpts{Name: "analyses_completed_total", Help: "Jobs that reached completed"})
	AnalysesFailed      = prometheus.NewCounter(prometheus.CounterOpts{Name: "analyses_failed_total", Help: "Jobs that reached failed"})
	ExtractionFallbacks = prometheus.NewCounter(prometheus.CounterOpts{Name: "analyses_extraction_fallbacks_total", Help: "Sections that fell back to placeholder text"})
	RateLimitRejects    = prometheus.NewCounter(prometheus.CounterOpts{Name: "analyses_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	QueueDepthGauge     = prometheus.NewGauge(prometheus.GaugeOpts{Name: "analyses_queue_depth", Help: "Ready queue depth"})
	InFlightGauge       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "analyses_inflight", Help: "Jobs currently leased"})
	ModelLatency        = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "analyses_model_latency_seconds",
		Help:    "Latency of upstream model calls",
		Buckets: prometheus.ExponentialBuckets(1, 2, 8),
	})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			SubmissionsTotal,
			DedupHits,
			CacheHits,
			CacheMisses,
			AnalysesCompleted,
			AnalysesFailed,
			ExtractionFallbacks,
			RateLimitRejects,
			QueueDepthGauge,
			InFlightGauge,
			ModelLatency,
		)
	})
	return promhttp.Handler()
}
