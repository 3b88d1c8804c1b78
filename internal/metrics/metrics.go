// Package metrics exposes Prometheus collectors for the cache engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache names used as the "cache" label.
const (
	CachePreview      = "preview"
	CacheFeatureImage = "feature_image"
	CacheBlobStore    = "blob_store"
)

// Cache metrics
var (
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navigator_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navigator_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navigator_cache_evictions_total",
			Help: "Total number of entries evicted to respect a capacity ceiling",
		},
		[]string{"cache"},
	)

	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "navigator_cache_entries",
			Help: "Number of resident cache entries",
		},
		[]string{"cache"},
	)
)

// Record index metrics
var (
	RecordsTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "navigator_records",
			Help: "Number of file records in the in-memory index",
		},
	)

	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navigator_events_total",
			Help: "File lifecycle events handled, by kind and resulting action",
		},
		[]string{"kind", "action"},
	)
)

// Regeneration metrics
var (
	QueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "navigator_regeneration_queue_length",
			Help: "Number of paths waiting for regeneration",
		},
	)

	RegenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navigator_regenerations_total",
			Help: "Derived field regenerations by field and result",
		},
		[]string{"field", "result"},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "navigator_regeneration_batch_duration_seconds",
			Help:    "Time spent processing one regeneration batch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	StaleWritesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "navigator_stale_writes_total",
			Help: "Provider results discarded because the file changed before they were committed",
		},
	)

	ReadFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "navigator_read_failures_total",
			Help: "Content reads that failed, leaving the record pending",
		},
	)
)

// Thumbnail metrics
var (
	ThumbnailGenerationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navigator_thumbnail_generations_total",
			Help: "Feature image thumbnails generated, by result",
		},
		[]string{"result"},
	)

	ThumbnailGenerationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "navigator_thumbnail_generation_duration_seconds",
			Help:    "Thumbnail generation duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)
)

// Store metrics
var (
	StoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "navigator_store_errors_total",
			Help: "Persistent store operations that failed",
		},
		[]string{"operation"},
	)

	StoreRebuildsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "navigator_store_rebuilds_total",
			Help: "Times the persistent store started empty and forced a full rebuild",
		},
	)
)

// InitializeMetrics pre-populates the expected label combinations so every
// series is exported from the first scrape.
func InitializeMetrics() {
	for _, c := range []string{CachePreview, CacheFeatureImage, CacheBlobStore} {
		CacheHits.WithLabelValues(c)
		CacheMisses.WithLabelValues(c)
		CacheEvictions.WithLabelValues(c)
		CacheEntries.WithLabelValues(c)
	}
	for _, f := range []string{"tags", "preview", "feature_image", "metadata"} {
		for _, r := range []string{"ok", "failed"} {
			RegenerationsTotal.WithLabelValues(f, r)
		}
	}
	for _, r := range []string{"success", "error"} {
		ThumbnailGenerationsTotal.WithLabelValues(r)
	}
}
