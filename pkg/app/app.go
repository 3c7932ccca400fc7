// Package app wires the refresher's components together
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/threatmaps/refresher/pkg/artifact"
	"github.com/threatmaps/refresher/pkg/config"
	"github.com/threatmaps/refresher/pkg/lock"
	"github.com/threatmaps/refresher/pkg/metadata"
	"github.com/threatmaps/refresher/pkg/observability"
	"github.com/threatmaps/refresher/pkg/query"
	"github.com/threatmaps/refresher/pkg/refresh"
	"github.com/threatmaps/refresher/pkg/scheduler"
	"github.com/threatmaps/refresher/pkg/server"
	"github.com/threatmaps/refresher/pkg/transform"
)

// Application encapsulates the refresher's services
type Application struct {
	config   *config.Config
	logger   *logrus.Logger
	datasets *config.Datasets

	redisClient *redis.Client
	enricher    *transform.Enricher
	metaStore   *metadata.Store
	coordinator *refresh.Coordinator

	metrics *observability.Server
	api     server.Service
	sched   scheduler.Service
}

// NewApplication creates an unstarted application
func NewApplication(cfg *config.Config, logger *logrus.Logger) *Application {
	return &Application{
		config: cfg,
		logger: logger,
	}
}

// StartCore builds the stores, the lock manager, and the coordinator without
// starting any server. One-shot CLI refreshes use exactly this.
func (a *Application) StartCore() error {
	if err := a.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	datasets, err := config.LoadDatasetsFromFile(a.config.DatasetsFile)
	if err != nil {
		return fmt.Errorf("failed to load datasets: %w", err)
	}

	a.datasets = datasets
	a.logger.WithField("datasets", len(datasets.All())).Info("Loaded dataset definitions")

	opt, err := redis.ParseURL(a.config.Redis.URL)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	a.redisClient = redis.NewClient(opt)

	log := logrus.NewEntry(a.logger)

	artifacts, err := artifact.NewFSStore(log, a.config.Storage.Dir)
	if err != nil {
		return fmt.Errorf("failed to open artifact store: %w", err)
	}

	a.metaStore = metadata.NewStore(log, artifacts)

	if a.config.Geo.Enabled {
		enricher, err := transform.NewEnricher(log, a.config.Geo.DatabasePath)
		if err != nil {
			return fmt.Errorf("failed to open geo database: %w", err)
		}

		a.enricher = enricher
	}

	a.coordinator = refresh.NewCoordinator(refresh.Deps{
		Log:           log,
		Datasets:      datasets,
		Locks:         lock.NewManager(log, a.redisClient),
		Artifacts:     artifacts,
		Metadata:      a.metaStore,
		Querier:       query.NewClient(log, &a.config.Query),
		Transformer:   transform.NewService(log, a.enricher),
		LeaseDuration: time.Duration(a.config.Lock.LeaseDuration),
	})

	return nil
}

// Start builds the core and starts the metrics server, the HTTP API, and the
// background scheduler.
func (a *Application) Start() error {
	if err := a.StartCore(); err != nil {
		return err
	}

	log := logrus.NewEntry(a.logger)
	ctx := context.Background()

	a.metrics = observability.NewServer(log, a.config.MetricsAddr)
	if err := a.metrics.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	handlers := server.NewHandlers(a.coordinator, a.datasets, a.metaStore, log)
	a.api = server.NewService(&a.config.API, handlers, log)

	if err := a.api.Start(ctx); err != nil {
		return fmt.Errorf("failed to start API: %w", err)
	}

	if a.config.Scheduler.Enabled {
		a.sched = scheduler.NewService(log, a.datasets, a.coordinator)

		if err := a.sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	a.logger.Info("Refresher started")

	return nil
}

// Stop gracefully shuts down the application
func (a *Application) Stop() error {
	a.logger.Info("Shutting down refresher...")

	if a.sched != nil {
		if err := a.sched.Stop(); err != nil {
			a.logger.WithError(err).Error("Error stopping scheduler")
		}
	}

	if a.api != nil {
		if err := a.api.Stop(); err != nil {
			a.logger.WithError(err).Error("Error stopping API server")
		}
	}

	if a.metrics != nil {
		if err := a.metrics.Stop(); err != nil {
			a.logger.WithError(err).Error("Error stopping metrics server")
		}
	}

	if a.enricher != nil {
		if err := a.enricher.Close(); err != nil {
			a.logger.WithError(err).Error("Failed to close geo database")
		}
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.WithError(err).Error("Failed to close Redis client")
		}
	}

	return nil
}

// Coordinator returns the refresh coordinator for direct invocation
func (a *Application) Coordinator() *refresh.Coordinator {
	return a.coordinator
}
