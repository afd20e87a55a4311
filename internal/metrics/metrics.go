// Package metrics provides Prometheus metrics for fsx
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for fsx
type Metrics struct {
	// Catalog (metadata SQL store) metrics
	CatalogOperationsTotal   *prometheus.CounterVec
	CatalogOperationDuration *prometheus.HistogramVec

	// Blob storage metrics
	BlobOperationsTotal   *prometheus.CounterVec
	BlobOperationDuration *prometheus.HistogramVec
	BlobBytesTransferred  *prometheus.CounterVec

	// Extent store metrics
	ExtentFlushesTotal    prometheus.Counter
	ExtentFlushDuration   prometheus.Histogram
	ExtentCacheHitsTotal  prometheus.Counter
	ExtentCacheMissTotal  prometheus.Counter
	ExtentCacheSize       prometheus.Gauge
	DirtyPagesTotal       prometheus.Gauge
	ExtentsWrittenTotal   prometheus.Counter
	ExtentChecksumErrors  prometheus.Counter

	// Branch manager metrics
	BranchesTotal       prometheus.Gauge
	BranchCommitsTotal  prometheus.Counter
	BranchCreatesTotal  prometheus.Counter

	// Server metrics
	ServerUptimeSeconds prometheus.Gauge
	ServerStartTime     time.Time
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		ServerStartTime: time.Now(),
	}

	m.CatalogOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsx_catalog_operations_total",
			Help: "Total number of metadata catalog operations",
		},
		[]string{"operation", "status"},
	)

	m.CatalogOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fsx_catalog_operation_duration_seconds",
			Help:    "Duration of metadata catalog operations in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation"},
	)

	m.BlobOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsx_blob_operations_total",
			Help: "Total number of blob storage operations",
		},
		[]string{"backend", "operation", "status"},
	)

	m.BlobOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fsx_blob_operation_duration_seconds",
			Help:    "Duration of blob storage operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	m.BlobBytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fsx_blob_bytes_transferred_total",
			Help: "Total bytes read from or written to blob storage",
		},
		[]string{"backend", "direction"},
	)

	m.ExtentFlushesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fsx_extent_flushes_total",
			Help: "Total number of extent flush operations",
		},
	)

	m.ExtentFlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fsx_extent_flush_duration_seconds",
			Help:    "Duration of extent flush (pack + put + catalog upsert) in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	m.ExtentCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fsx_extent_cache_hits_total",
			Help: "Total number of extent cache hits",
		},
	)

	m.ExtentCacheMissTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fsx_extent_cache_misses_total",
			Help: "Total number of extent cache misses",
		},
	)

	m.ExtentCacheSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fsx_extent_cache_size",
			Help: "Current number of extents held in the LRU cache",
		},
	)

	m.DirtyPagesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fsx_dirty_pages_total",
			Help: "Current number of buffered dirty pages awaiting flush",
		},
	)

	m.ExtentsWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fsx_extents_written_total",
			Help: "Total number of extents sealed and written to blob storage",
		},
	)

	m.ExtentChecksumErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fsx_extent_checksum_errors_total",
			Help: "Total number of extent checksum validation failures on read",
		},
	)

	m.BranchesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fsx_branches_total",
			Help: "Current number of branches",
		},
	)

	m.BranchCommitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fsx_branch_commits_total",
			Help: "Total number of branch commits recorded",
		},
	)

	m.BranchCreatesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fsx_branch_creates_total",
			Help: "Total number of branches created",
		},
	)

	m.ServerUptimeSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fsx_server_uptime_seconds",
			Help: "Server uptime in seconds",
		},
	)

	go m.updateUptime()

	return m
}

// updateUptime periodically updates the server uptime metric
func (m *Metrics) updateUptime() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		m.ServerUptimeSeconds.Set(time.Since(m.ServerStartTime).Seconds())
	}
}

// RecordCatalogOperation records a metadata catalog exec with its status.
func (m *Metrics) RecordCatalogOperation(operation string, status string, duration time.Duration) {
	m.CatalogOperationsTotal.WithLabelValues(operation, status).Inc()
	m.CatalogOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordBlobOperation records a blob storage call against a named backend.
func (m *Metrics) RecordBlobOperation(backend, operation, status string, duration time.Duration) {
	m.BlobOperationsTotal.WithLabelValues(backend, operation, status).Inc()
	m.BlobOperationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordBlobBytes records payload bytes moved through a backend, direction is "read" or "write".
func (m *Metrics) RecordBlobBytes(backend, direction string, n int64) {
	m.BlobBytesTransferred.WithLabelValues(backend, direction).Add(float64(n))
}

// RecordExtentFlush records one completed flush cycle.
func (m *Metrics) RecordExtentFlush(duration time.Duration) {
	m.ExtentFlushesTotal.Inc()
	m.ExtentFlushDuration.Observe(duration.Seconds())
	m.ExtentsWrittenTotal.Inc()
}

// UpdateCacheStats sets the current extent cache occupancy and dirty-page counts.
func (m *Metrics) UpdateCacheStats(cacheSize int, dirtyPages int) {
	m.ExtentCacheSize.Set(float64(cacheSize))
	m.DirtyPagesTotal.Set(float64(dirtyPages))
}

// UpdateBranchStats sets the current branch count.
func (m *Metrics) UpdateBranchStats(branchCount int) {
	m.BranchesTotal.Set(float64(branchCount))
}
