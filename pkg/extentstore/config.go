// ABOUTME: ExtentStorage engine — dirty-page buffering, flush/pack, cache,
// ABOUTME: sparse reads, truncate/delete (spec §4.3)

package extentstore

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fsxdb/fsx/internal/logger"
	"github.com/fsxdb/fsx/internal/metrics"
	"github.com/fsxdb/fsx/pkg/blob"
	"github.com/fsxdb/fsx/pkg/catalog"
	"github.com/fsxdb/fsx/pkg/errs"
	"github.com/fsxdb/fsx/pkg/extent"
)

// Compression names the extent codec's compression choice.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionGzip Compression = "gzip"
)

const (
	// DefaultPageSize matches spec §6.2.
	DefaultPageSize = 4096
	// DefaultExtentSize matches spec §6.2 (2 MiB).
	DefaultExtentSize = 2 * 1024 * 1024
	// DefaultCacheSize bounds the in-memory extent cache (number of extents).
	DefaultCacheSize = 256
)

// Config configures one ExtentStorage instance. Within a single instance,
// page_size is uniform across every file it holds (spec §3).
type Config struct {
	PageSize    uint16
	ExtentSize  int
	Compression Compression

	Backend blob.Storage
	Catalog *catalog.Catalog

	// ExtentPrefix namespaces this instance's blob keys; defaults to "extent/".
	ExtentPrefix string

	// AutoFlush triggers flush_file once a file's dirty count reaches
	// FlushThreshold. Go's zero value for bool is false; use DefaultConfig
	// to start from the spec's documented default of true.
	AutoFlush      bool
	FlushThreshold int

	// CacheSize bounds the LRU extent cache; defaults to DefaultCacheSize.
	CacheSize int

	Logger  *logger.Logger
	Metrics *metrics.Metrics
}

func (c *Config) setDefaults() error {
	if c.PageSize == 0 {
		c.PageSize = DefaultPageSize
	}
	if c.PageSize != 4096 && c.PageSize != 8192 {
		return fmt.Errorf("extentstore: page size %d not in {4096,8192}: %w", c.PageSize, errs.ErrInvalid)
	}
	if c.ExtentSize == 0 {
		c.ExtentSize = DefaultExtentSize
	}
	if c.Compression == "" {
		c.Compression = CompressionNone
	}
	if c.Compression != CompressionNone && c.Compression != CompressionGzip {
		return fmt.Errorf("extentstore: unknown compression %q: %w", c.Compression, errs.ErrInvalid)
	}
	if c.ExtentPrefix == "" {
		c.ExtentPrefix = "extent/"
	}
	if c.Backend == nil {
		return fmt.Errorf("extentstore: backend is required: %w", errs.ErrInvalid)
	}
	if c.Catalog == nil {
		return fmt.Errorf("extentstore: catalog is required: %w", errs.ErrInvalid)
	}
	if c.CacheSize == 0 {
		c.CacheSize = DefaultCacheSize
	}
	return nil
}

// DefaultConfig returns a Config with the spec's documented defaults
// (page_size=4096, extent_size=2MiB, compression=none, auto_flush=true)
// applied; callers still must set Backend and Catalog.
func DefaultConfig() Config {
	return Config{
		PageSize:    DefaultPageSize,
		ExtentSize:  DefaultExtentSize,
		Compression: CompressionNone,
		AutoFlush:   true,
		CacheSize:   DefaultCacheSize,
	}
}

func (c Config) pagesPerExtent() int {
	n := c.ExtentSize / int(c.PageSize)
	if n < 1 {
		n = 1
	}
	return n
}

// Stats reports a point-in-time snapshot, matching spec §4.3.2's get_stats.
type Stats struct {
	Files        int
	Extents      int64
	DirtyPages   int
	StoredBytes  int64
	CacheSize    int
	CacheHitRate float64
}

type cachedExtent struct {
	parsed extent.Parsed
}

func newCache(size int) (*lru.Cache[string, cachedExtent], error) {
	return lru.New[string, cachedExtent](size)
}
