// Package main implements the entry point for the fabula service, the
// collaborative narrative flow editing backend: flow graph storage, variable
// reference indexing, and realtime multi-session editing over WebSocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/fabula/catalog"
	"github.com/c360/fabula/collab"
	"github.com/c360/fabula/config"
	"github.com/c360/fabula/flowstore"
	"github.com/c360/fabula/gateway"
	"github.com/c360/fabula/metric"
	"github.com/c360/fabula/natsclient"
	"github.com/c360/fabula/nodetype"
	"github.com/c360/fabula/refindex"
	"github.com/c360/fabula/storage"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "fabula"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML config file")
	validateOnly := flag.Bool("validate", false, "validate configuration and exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s %s\n", appName, Version)
		return nil
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if *validateOnly {
		fmt.Println("configuration is valid")
		return nil
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)
	logger.Info("starting", "storage_driver", cfg.Storage.Driver, "addr", cfg.Gateway.Addr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// NATS is needed for the nats storage driver and for the relay
	var nats *natsclient.Client
	if cfg.Storage.Driver == config.DriverNATS || cfg.NATS.EnableRelay {
		nats, err = natsclient.NewClient(cfg.NATS.URL,
			natsclient.WithLogger(logger),
			natsclient.WithName(appName),
			natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
			natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
			natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password),
			natsclient.WithToken(cfg.NATS.Token),
		)
		if err != nil {
			return err
		}
		if err := nats.Connect(ctx); err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := nats.Close(closeCtx); err != nil {
				logger.Warn("NATS close failed", "error", err)
			}
		}()
	}

	backend, cleanup, err := buildBackend(ctx, cfg, nats, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	cat := catalog.NewMemoryCatalog()
	tracker, err := refindex.NewTracker(cat, logger)
	if err != nil {
		return err
	}
	registry := nodetype.NewRegistry()

	store, err := flowstore.NewStore(backend, registry, tracker, logger)
	if err != nil {
		return err
	}
	if err := store.Load(ctx); err != nil {
		return err
	}

	metrics := metric.NewRegistry()
	var metricsServer *metric.Server
	if cfg.Metrics.Enabled {
		metricsServer = metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, metrics)
		go func() {
			if err := metricsServer.Start(); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			if err := metricsServer.Stop(); err != nil {
				logger.Warn("metrics server stop failed", "error", err)
			}
		}()
	}

	var relay collab.Relay
	if cfg.NATS.EnableRelay && nats != nil {
		relay = nats
	}
	hub, err := collab.NewHub(collab.Dependencies{
		Store:   store,
		Logger:  logger,
		Metrics: metrics.Core(),
		Relay:   relay,
	}, collab.Options{
		LeaseTTL:       cfg.Collab.LeaseTTL,
		SweepInterval:  cfg.Collab.SweepInterval,
		CursorInterval: cfg.Collab.CursorInterval,
		EventBuffer:    cfg.Collab.EventBuffer,
	})
	if err != nil {
		return err
	}
	if err := hub.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := hub.Stop(); err != nil {
			logger.Warn("hub stop failed", "error", err)
		}
	}()

	go purgeLoop(ctx, store, cfg.Trash, logger)

	server, err := gateway.NewServer(gateway.Config{
		Addr:            cfg.Gateway.Addr,
		MaxRequestSize:  cfg.Gateway.MaxRequestSize,
		ShutdownTimeout: cfg.Gateway.ShutdownTimeout,
	}, store, hub, tracker, registry, cat, logger)
	if err != nil {
		return err
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	if err := server.Stop(); err != nil {
		logger.Warn("gateway stop failed", "error", err)
	}
	logger.Info("stopped")
	return nil
}

// buildBackend selects the storage backend per config; the returned cleanup
// closes whatever the backend owns
func buildBackend(ctx context.Context, cfg *config.Config, nats *natsclient.Client,
	logger *slog.Logger) (flowstore.Backend, func(), error) {

	switch cfg.Storage.Driver {
	case config.DriverMemory:
		return flowstore.NewMemoryBackend(), func() {}, nil

	case config.DriverSQLite:
		backend, err := storage.OpenSQLite(cfg.Storage.Path, logger)
		if err != nil {
			return nil, nil, err
		}
		cleanup := func() {
			if err := backend.Close(); err != nil {
				logger.Warn("sqlite close failed", "error", err)
			}
		}
		return backend, cleanup, nil

	case config.DriverNATS:
		bucket, err := nats.CreateKeyValueBucket(ctx, jetstreamKVConfig(cfg.Storage.Bucket))
		if err != nil {
			return nil, nil, err
		}
		kv := nats.NewKVStore(bucket)
		return storage.NewNATSKVBackend(kv, logger), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func jetstreamKVConfig(bucket string) jetstream.KeyValueConfig {
	return jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "fabula flow documents",
		History:     1,
	}
}

// purgeLoop permanently deletes trashed flows past the retention window
func purgeLoop(ctx context.Context, store *flowstore.Store, cfg config.TrashConfig, logger *slog.Logger) {
	ticker := time.NewTicker(cfg.PurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := store.PurgeTrash(ctx, time.Now().Add(-cfg.Retention))
			if err != nil {
				logger.Warn("trash purge failed", "error", err)
				continue
			}
			if len(purged) > 0 {
				logger.Info("purged trashed flows", "count", len(purged))
			}
		}
	}
}
