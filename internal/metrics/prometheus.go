package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SearchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "discovery_search_duration_seconds",
			Help:    "Search request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
		},
		[]string{"cache"},
	)

	SearchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_search_total",
			Help: "Total number of search requests",
		},
		[]string{"status"},
	)

	FullTextDegraded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "discovery_fulltext_degraded_total",
			Help: "Searches that fell back to substring matching",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"namespace"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"namespace"},
	)

	CacheErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_cache_errors_total",
			Help: "Cache store failures treated as degraded operation",
		},
		[]string{"namespace", "op"},
	)

	CacheInvalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_cache_invalidated_keys_total",
			Help: "Keys removed by invalidation",
		},
		[]string{"kind"},
	)

	RecommendationsServed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_recommendations_served_total",
			Help: "Recommendation responses by strategy",
		},
		[]string{"source", "cache"},
	)

	SimilarityRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_similarity_runs_total",
			Help: "Similarity precomputation runs by outcome",
		},
		[]string{"status"},
	)

	SimilarityDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "discovery_similarity_duration_seconds",
			Help:    "Similarity precomputation duration",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
	)

	SimilarityEdges = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "discovery_similarity_edges",
			Help: "Edges in the active similarity generation",
		},
	)

	EventsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_events_written_total",
			Help: "Telemetry rows written",
		},
		[]string{"kind"},
	)

	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_events_dropped_total",
			Help: "Telemetry rows dropped because of a full buffer or write failure",
		},
		[]string{"kind", "reason"},
	)

	EventsPurged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "discovery_events_purged_total",
			Help: "Telemetry rows removed by retention",
		},
		[]string{"kind"},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			SearchDuration,
			SearchTotal,
			FullTextDegraded,
			CacheHits,
			CacheMisses,
			CacheErrors,
			CacheInvalidations,
			RecommendationsServed,
			SimilarityRuns,
			SimilarityDuration,
			SimilarityEdges,
			EventsWritten,
			EventsDropped,
			EventsPurged,
		)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
