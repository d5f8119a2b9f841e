package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/VanDung-dev/KVCache-Engine/cache"
	"github.com/VanDung-dev/KVCache-Engine/metrics"
	"github.com/VanDung-dev/KVCache-Engine/network"
	"github.com/VanDung-dev/KVCache-Engine/snapshot"
)

// Version information
const (
	Version = "0.1.0"
	Name    = "KVCache-Engine"
)

func main() {
	var (
		addr         = flag.String("addr", "tcp://0.0.0.0:5555", "ZeroMQ endpoint to serve on")
		backend      = flag.String("backend", "memory", "Storage backend: memory or sqlite")
		dbPath       = flag.String("db", "kvcache.db", "SQLite database path (sqlite backend only)")
		sweep        = flag.Duration("sweep", network.DefaultSweepInterval, "Expired entry sweep interval (negative disables)")
		workers      = flag.Int("workers", network.DefaultWorkers, "Request worker goroutines")
		metricsAddr  = flag.String("metrics-addr", "", "Prometheus listen address, e.g. :9090 (empty disables)")
		snapshotPath = flag.String("snapshot", "", "Snapshot file restored at boot and written at shutdown")
		debug        = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	if *debug {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	level.Info(logger).Log("msg", "starting", "name", Name, "version", Version, "backend", *backend)

	adapter, err := openAdapter(*backend, *dbPath)
	if err != nil {
		level.Error(logger).Log("msg", "failed to open storage backend", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()

	if *snapshotPath != "" {
		n, err := snapshot.RestoreFile(ctx, *snapshotPath, adapter)
		switch {
		case errors.Is(err, os.ErrNotExist):
			level.Info(logger).Log("msg", "no snapshot to restore", "path", *snapshotPath)
		case err != nil:
			level.Warn(logger).Log("msg", "snapshot restore failed", "path", *snapshotPath, "err", err)
		default:
			level.Info(logger).Log("msg", "snapshot restored", "path", *snapshotPath, "entries", n)
		}
	}

	var m *metrics.Metrics
	var metricsSrv *metrics.Server
	if *metricsAddr != "" {
		m = metrics.NewMetrics("kvcache", nil)
		metricsSrv = metrics.NewServer(*metricsAddr, nil)
		metricsSrv.StartAsync()
		level.Info(logger).Log("msg", "metrics server listening", "addr", *metricsAddr)
	}

	auth := network.NewAuthenticatorFromEnv()
	if auth.IsEnabled() {
		level.Info(logger).Log("msg", "authentication enabled", "token", auth.GetToken())
	}

	srv := network.NewServer(adapter, network.ServerConfig{
		Addr:          *addr,
		Workers:       *workers,
		SweepInterval: *sweep,
		Auth:          network.AuthConfig{Enabled: auth.IsEnabled(), Token: auth.GetToken()},
		Logger:        logger,
		Metrics:       m,
	})
	if err := srv.Start(); err != nil {
		level.Error(logger).Log("msg", "failed to start server", "err", err)
		os.Exit(1)
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	level.Info(logger).Log("msg", "shutting down")
	srv.Stop()

	// Snapshot after the server stops so no writes race the dump.
	if *snapshotPath != "" {
		writeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		n, err := snapshot.WriteFile(writeCtx, *snapshotPath, adapter)
		cancel()
		if err != nil {
			level.Warn(logger).Log("msg", "snapshot write failed", "path", *snapshotPath, "err", err)
		} else {
			level.Info(logger).Log("msg", "snapshot written", "path", *snapshotPath, "entries", n)
		}
	}

	if metricsSrv != nil {
		if err := metricsSrv.Stop(); err != nil {
			level.Warn(logger).Log("msg", "metrics server stop failed", "err", err)
		}
	}
	if err := adapter.Close(); err != nil {
		level.Warn(logger).Log("msg", "storage close failed", "err", err)
	}
	level.Info(logger).Log("msg", "stopped")
}

func openAdapter(backend, dbPath string) (cache.Adapter, error) {
	switch backend {
	case "memory":
		return cache.NewMemory(), nil
	case "sqlite":
		return cache.NewSQLite(cache.SQLiteConfig{Path: dbPath})
	default:
		return nil, fmt.Errorf("unknown backend %q (want memory or sqlite)", backend)
	}
}
