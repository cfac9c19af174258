package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/therealutkarshpriyadarshi/embedstore/pkg/config"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/docstore"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/hnsw"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/lifecycle"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/observability"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/search"
	"github.com/therealutkarshpriyadarshi/embedstore/pkg/vectorindex"
)

// app is everything one command invocation works with
type app struct {
	cfg      *config.Config
	logger   *observability.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	store    docstore.Store
	manager  *lifecycle.Manager
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if backend != "" {
		cfg.Storage.Backend = backend
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func indexOptions(cfg *config.Config) vectorindex.Options {
	return vectorindex.Options{
		HNSW: hnsw.Config{
			M:              cfg.Index.M,
			EfConstruction: cfg.Index.EfConstruction,
		},
		EfSearch:  cfg.Index.EfSearch,
		Workers:   cfg.Rebuild.Workers,
		ChunkSize: cfg.Rebuild.ChunkSize,
	}
}

func openStore(cfg *config.Config) (docstore.Store, error) {
	if cfg.Storage.Backend == config.BackendMemory {
		return docstore.NewMemory(), nil
	}
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return docstore.OpenBolt(cfg.Storage.BoltPath())
}

// openApp loads the configuration, opens the record store and restores
// every embedder's index from it
func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	level, err := observability.ParseLogLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	logger := observability.NewLoggerWithOptions(observability.LoggerOptions{
		Name:  "vectorctl",
		Level: level,
		JSON:  cfg.Logging.JSON,
	})

	a := &app{cfg: cfg, logger: logger}
	if cfg.Metrics.Enabled {
		a.registry = prometheus.NewRegistry()
		a.metrics = observability.NewMetrics(a.registry)
	}

	a.store, err = openStore(cfg)
	if err != nil {
		return nil, err
	}

	opts := lifecycle.Options{
		Index:   indexOptions(cfg),
		Logger:  logger,
		Metrics: a.metrics,
	}
	if cfg.Cache.Enabled {
		opts.Cache = search.NewQueryCache(cfg.Cache.Capacity, cfg.Cache.TTL)
	}
	a.manager = lifecycle.NewManager(a.store, opts)

	if err := a.manager.Restore(ctx); err != nil {
		// broken embedders stay inconsistent until their settings are re-applied
		logger.Warn("some embedders could not be restored", map[string]interface{}{"error": err.Error()})
	}
	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// withApp runs fn against an opened app and closes it afterwards
func withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
