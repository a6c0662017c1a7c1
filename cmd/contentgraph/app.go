package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"contentgraph/internal/attach"
	"contentgraph/internal/config"
	"contentgraph/internal/jsonapi"
	"contentgraph/internal/logging"
	"contentgraph/internal/metrics"
	"contentgraph/internal/repository"
	"contentgraph/internal/repository/memory"
	"contentgraph/internal/repository/sqlite"
	"contentgraph/internal/service"
)

// app holds the wired components shared by every command
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector
	store   repository.Store
	sync    *service.SyncService
	graph   *service.GraphService

	closers []func()
}

func newApp(flags *globalFlags) (*app, error) {
	cfg, path, err := flags.loadConfig()
	if err != nil {
		return nil, err
	}

	logger, flush, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, closers: []func(){flush}}
	if path != "" {
		logger.Info("loaded config", zap.String("path", path))
	}

	a.metrics = metrics.NewCollector("contentgraph")

	a.store, err = openStore(cfg.Store, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, func() {
		if err := a.store.Close(); err != nil {
			logger.Warn("failed to close store", zap.Error(err))
		}
	})

	transport := jsonapi.NewHTTPTransport(nil, jsonapi.DefaultBreakerConfig("remote"), logger)
	client := jsonapi.NewClient(transport, cfg.BaseURL, cfg.APIBase, credentials(cfg), logger, a.metrics)

	materializer, err := newMaterializer(cfg.Files, transport)
	if err != nil {
		a.close()
		return nil, err
	}

	a.sync = service.NewSyncService(cfg, service.Deps{
		Client:   client,
		Store:    a.store,
		Attacher: attach.New(cfg, materializer, logger, a.metrics),
		Logger:   logger,
		Metrics:  a.metrics,
	})
	a.graph = service.NewGraphService(a.store)
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func openStore(cfg config.StoreConfig, logger *zap.Logger) (repository.Store, error) {
	switch cfg.Driver {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		store, err := sqlite.New(cfg.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func newMaterializer(cfg config.FilesConfig, opener attach.Opener) (attach.Materializer, error) {
	if cfg.S3 != nil {
		m, err := attach.NewS3Materializer(*cfg.S3, opener)
		if err != nil {
			return nil, fmt.Errorf("s3 materializer: %w", err)
		}
		return m, nil
	}
	return attach.NewDiskMaterializer(cfg.Dir, opener), nil
}

func credentials(cfg *config.Config) jsonapi.Credentials {
	creds := jsonapi.Credentials{Token: cfg.BearerToken, Headers: cfg.Headers}
	if cfg.BasicAuth != nil {
		creds.Username = cfg.BasicAuth.Username
		creds.Password = cfg.BasicAuth.Password
	}
	return creds
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
