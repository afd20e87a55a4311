// fsxd is a demo daemon for the extent-based virtual filesystem core: it
// wires a BlobStorage backend, the sqlite metadata catalog, the
// ExtentStorage engine, and the BranchManager together, runs a smoke test
// (write and read a page, create a branch, commit, switch to and delete the
// branch), and serves Prometheus metrics,
// health, and pprof endpoints until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsxdb/fsx/internal/logger"
	"github.com/fsxdb/fsx/internal/metrics"
	"github.com/fsxdb/fsx/internal/server"
	"github.com/fsxdb/fsx/pkg/blob"
	"github.com/fsxdb/fsx/pkg/branch"
	"github.com/fsxdb/fsx/pkg/catalog"
	"github.com/fsxdb/fsx/pkg/extentstore"
)

var (
	dbPath        = flag.String("db", "fsx.db", "sqlite metadata catalog path")
	obsPort       = flag.Int("port", 9090, "observability server port (metrics, health, pprof)")
	backendKind   = flag.String("backend", "memory", "blob storage backend: memory or s3")
	s3Bucket      = flag.String("s3-bucket", "", "S3 bucket (required when -backend=s3)")
	s3Prefix      = flag.String("s3-prefix", "fsx/", "key prefix within the S3 bucket")
	readCache     = flag.Bool("read-cache", false, "wrap the backend in an in-process read-through cache")
	pageSize      = flag.Int("page-size", extentstore.DefaultPageSize, "page size in bytes (4096 or 8192)")
	compress      = flag.Bool("compress", false, "gzip-compress extents on flush")
	logLevel      = flag.String("log-level", "info", "log level: debug, info, warn, error")
	logPretty     = flag.Bool("log-pretty", false, "console-format log output")
)

func main() {
	flag.Parse()

	logger.InitGlobalLogger(logger.Config{Level: *logLevel, Pretty: *logPretty})
	log := logger.GetGlobalLogger()
	m := metrics.NewMetrics()

	log.LogServerStart(*obsPort, *dbPath)

	backend, err := buildBackend(*backendKind)
	if err != nil {
		log.Fatal("failed to build blob backend").Err(err).Send()
	}
	if *readCache {
		backend = blob.NewObjectStoreWithCache(
			backend,
			blob.NewCache(blob.CacheConfig{Name: *backendKind}, nil),
			blob.CachedConfig{WarmOnWrite: false, TTL: 30 * time.Second},
		)
	}

	cat, err := catalog.Open(*dbPath)
	if err != nil {
		log.Fatal("failed to open catalog").Err(err).Send()
	}
	defer cat.Close()

	mgr, err := branch.New(branch.Config{
		PageSize:    uint16(*pageSize),
		ExtentSize:  extentstore.DefaultExtentSize,
		Compression: compression(*compress),
		Backend:     backend,
		Catalog:     cat,
		AutoFlush:   true,
		Logger:      log,
		Metrics:     m,
	})
	if err != nil {
		log.Fatal("failed to build branch manager").Err(err).Send()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := mgr.Init(ctx); err != nil {
		log.Fatal("failed to init branch manager").Err(err).Send()
	}

	if err := smokeTest(ctx, mgr, uint16(*pageSize)); err != nil {
		log.Fatal("smoke test failed").Err(err).Send()
	}
	log.Info("smoke test passed").Send()

	obs := server.NewObservabilityServer(*obsPort, log)
	go func() {
		if err := obs.Start(); err != nil {
			log.Error("observability server stopped").Err(err).Send()
		}
	}()
	log.LogServerReady(*obsPort)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.LogServerShutdown()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Error("observability server shutdown error").Err(err).Send()
	}
}

func compression(gzip bool) extentstore.Compression {
	if gzip {
		return extentstore.CompressionGzip
	}
	return extentstore.CompressionNone
}

func buildBackend(kind string) (blob.Storage, error) {
	switch kind {
	case "memory":
		return blob.NewMemory(), nil
	case "s3":
		if *s3Bucket == "" {
			return nil, fmt.Errorf("fsxd: -s3-bucket is required when -backend=s3")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return blob.NewObjectStore(ctx, blob.ObjectStoreConfig{Bucket: *s3Bucket, Prefix: *s3Prefix})
	default:
		return nil, fmt.Errorf("fsxd: unknown backend %q", kind)
	}
}

// smokeTest exercises write/read/branch/commit once, mirroring the teacher's
// pattern of a startup self-check before accepting traffic.
func smokeTest(ctx context.Context, mgr *branch.Manager, pageSize uint16) error {
	const fileID = "smoke-test-file"
	payload := make([]byte, pageSize)
	copy(payload, []byte("fsxd startup smoke test"))

	if err := mgr.WritePage(ctx, fileID, 0, payload); err != nil {
		return fmt.Errorf("write page: %w", err)
	}
	got, ok, err := mgr.ReadPage(ctx, fileID, 0)
	if err != nil {
		return fmt.Errorf("read page: %w", err)
	}
	if !ok || string(got[:23]) != "fsxd startup smoke test" {
		return fmt.Errorf("read page: unexpected content")
	}

	if _, err := mgr.CreateBranch(ctx, "smoke", "main"); err != nil {
		return fmt.Errorf("create branch: %w", err)
	}
	if _, err := mgr.Commit(ctx, "startup smoke test"); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	if err := mgr.Switch(ctx, "main"); err != nil {
		return fmt.Errorf("switch back to main: %w", err)
	}
	if err := mgr.DeleteBranch(ctx, "smoke"); err != nil {
		return fmt.Errorf("delete branch: %w", err)
	}
	return nil
}
