package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics of the embedding store.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Settings metrics
	SettingsApplied  *prometheus.CounterVec
	SettingsRejected *prometheus.CounterVec
	EmbeddersTotal   prometheus.Gauge

	// Rebuild metrics
	RebuildsTotal   *prometheus.CounterVec
	RebuildDuration prometheus.Histogram

	// Consistency metrics
	ConsistencyFaults *prometheus.CounterVec

	// Vector operation metrics
	VectorsInserted *prometheus.CounterVec
	VectorsRemoved  *prometheus.CounterVec

	// Index metrics
	IndexSize *prometheus.GaugeVec

	// Search metrics
	SearchLatency    prometheus.Histogram
	SearchResultSize prometheus.Histogram

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
	CacheSize   prometheus.Gauge
}

// NewMetrics creates the metrics and registers them with reg. A nil reg
// registers with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		SettingsApplied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedstore_settings_applied_total",
				Help: "Embedder settings changes committed, by action",
			},
			[]string{"embedder", "action"},
		),
		SettingsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedstore_settings_rejected_total",
				Help: "Embedder settings changes rejected, by error code",
			},
			[]string{"embedder", "code"},
		),
		EmbeddersTotal: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "embedstore_embedders",
				Help: "Number of configured embedders",
			},
		),

		RebuildsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedstore_rebuilds_total",
				Help: "Index rebuilds by outcome",
			},
			[]string{"embedder", "outcome"},
		),
		RebuildDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "embedstore_rebuild_duration_seconds",
				Help:    "Index rebuild duration in seconds",
				Buckets: []float64{.001, .01, .1, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),

		ConsistencyFaults: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedstore_consistency_faults_total",
				Help: "Index and settings disagreements detected",
			},
			[]string{"embedder"},
		),

		VectorsInserted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedstore_vectors_inserted_total",
				Help: "Documents written to an embedder index",
			},
			[]string{"embedder"},
		),
		VectorsRemoved: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "embedstore_vectors_removed_total",
				Help: "Documents removed from an embedder index",
			},
			[]string{"embedder"},
		),

		IndexSize: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "embedstore_index_documents",
				Help: "Documents in each embedder index",
			},
			[]string{"embedder"},
		),

		SearchLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "embedstore_search_latency_seconds",
				Help:    "Search latency in seconds",
				Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
		),
		SearchResultSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "embedstore_search_result_size",
				Help:    "Number of results returned by search",
				Buckets: []float64{0, 1, 5, 10, 20, 50, 100, 200, 500, 1000},
			},
		),

		CacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "embedstore_cache_hits_total",
				Help: "Search cache hits",
			},
		),
		CacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "embedstore_cache_misses_total",
				Help: "Search cache misses",
			},
		),
		CacheSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "embedstore_cache_size",
				Help: "Current number of entries in the search cache",
			},
		),
	}
}

// RecordSettingsApplied records a committed settings change
func (m *Metrics) RecordSettingsApplied(embedder, action string) {
	if m == nil {
		return
	}
	m.SettingsApplied.WithLabelValues(embedder, action).Inc()
}

// RecordSettingsRejected records a rejected settings change
func (m *Metrics) RecordSettingsRejected(embedder, code string) {
	if m == nil {
		return
	}
	m.SettingsRejected.WithLabelValues(embedder, code).Inc()
}

// UpdateEmbedderCount sets the number of configured embedders
func (m *Metrics) UpdateEmbedderCount(count int) {
	if m == nil {
		return
	}
	m.EmbeddersTotal.Set(float64(count))
}

// RecordRebuild records a finished rebuild
func (m *Metrics) RecordRebuild(embedder string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.RebuildsTotal.WithLabelValues(embedder, outcome).Inc()
	m.RebuildDuration.Observe(duration.Seconds())
}

// RecordConsistencyFault records a detected disagreement
func (m *Metrics) RecordConsistencyFault(embedder string) {
	if m == nil {
		return
	}
	m.ConsistencyFaults.WithLabelValues(embedder).Inc()
}

// RecordInsert records documents written to an index
func (m *Metrics) RecordInsert(embedder string, count int) {
	if m == nil {
		return
	}
	m.VectorsInserted.WithLabelValues(embedder).Add(float64(count))
}

// RecordDelete records documents removed from an index
func (m *Metrics) RecordDelete(embedder string, count int) {
	if m == nil {
		return
	}
	m.VectorsRemoved.WithLabelValues(embedder).Add(float64(count))
}

// UpdateIndexSize updates the index size metric
func (m *Metrics) UpdateIndexSize(embedder string, size int) {
	if m == nil {
		return
	}
	m.IndexSize.WithLabelValues(embedder).Set(float64(size))
}

// DeleteIndexSize drops the index size series of a removed embedder
func (m *Metrics) DeleteIndexSize(embedder string) {
	if m == nil {
		return
	}
	m.IndexSize.DeleteLabelValues(embedder)
}

// RecordSearch records a search operation
func (m *Metrics) RecordSearch(duration time.Duration, resultSize int) {
	if m == nil {
		return
	}
	m.SearchLatency.Observe(duration.Seconds())
	m.SearchResultSize.Observe(float64(resultSize))
}

// RecordCacheHit records a cache hit
func (m *Metrics) RecordCacheHit() {
	if m == nil {
		return
	}
	m.CacheHits.Inc()
}

// RecordCacheMiss records a cache miss
func (m *Metrics) RecordCacheMiss() {
	if m == nil {
		return
	}
	m.CacheMisses.Inc()
}

// UpdateCacheSize updates cache size
func (m *Metrics) UpdateCacheSize(size int) {
	if m == nil {
		return
	}
	m.CacheSize.Set(float64(size))
}
