package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/timmy/tiercache/internal/api"
	"github.com/timmy/tiercache/internal/api/handler"
	"github.com/timmy/tiercache/internal/cache"
	"github.com/timmy/tiercache/internal/config"
	"github.com/timmy/tiercache/internal/logger"
	"github.com/timmy/tiercache/internal/remote/registry"
	"github.com/timmy/tiercache/internal/repository"
	"github.com/timmy/tiercache/internal/service"
	"github.com/timmy/tiercache/internal/source"
	"github.com/timmy/tiercache/internal/source/staging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	appLogger := logger.NewDefault()
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	if err := run(cfg, appLogger); err != nil {
		appLogger.WithError(err).Error("Server exited with error")
		logger.Sync()
		os.Exit(1)
	}
	appLogger.Info("Server exited")
}

func run(cfg *config.Config, appLogger *logger.Logger) error {
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	orderRepo := repository.NewOrderRepository(db)
	productRepo := repository.NewProductRepository(db)
	catalog := repository.NewCachedCatalog(productRepo, cfg.Catalog.LookupTTL)
	catalog.Start()
	defer catalog.Stop()

	maxSize, err := cfg.Cache.MaxSizeBytes()
	if err != nil {
		return err
	}
	diskCache, err := cache.Open(cache.Options{
		Dir:                 cfg.Cache.Dir,
		MaxSize:             maxSize,
		HighWaterPercentage: cfg.Cache.HighWaterPercentage,
		LowWaterPercentage:  cfg.Cache.LowWaterPercentage,
		OnEvict: func(id string) {
			if err := catalog.MarkEvicted(context.Background(), id); err != nil {
				appLogger.WithError(err).WithField(logger.FieldProductUUID, id).Warn("Failed to flag evicted product")
			}
		},
	})
	if err != nil {
		return err
	}

	metrics := service.NewMetrics(prometheus.DefaultRegisterer)
	manager, err := service.NewStoreManager(cfg.Stores, service.SharedDeps{
		Orders:  orderRepo,
		Cache:   diskCache,
		Catalog: catalog,
		Metrics: metrics,
		Logger:  appLogger,
	}, registry.New)
	if err != nil {
		return fmt.Errorf("failed to configure stores: %w", err)
	}

	sources := map[string]source.Source{}
	if ids, err := staging.ListStagingSources(cfg.Catalog.StagingDir); err == nil {
		for _, id := range ids {
			sources[id] = staging.NewAdapter(cfg.Catalog.StagingDir, id)
		}
	}
	importer := service.NewCatalogImporter(productRepo, appLogger, &service.ImportConfig{
		Workers: cfg.Catalog.ImportWorkers,
	})

	router := api.SetupRouter(api.RouterDeps{
		Lookup: func(name string) (handler.ProductStore, bool) {
			engine, ok := manager.Store(name)
			if !ok {
				return nil, false
			}
			return engine, true
		},
		StoreNames: manager.Names,
		Orders:     orderRepo,
		Admin:      handler.NewAdminHandler(importer, sources),
		Ping:       sqlDB.Ping,
		Registerer: prometheus.DefaultRegisterer,
		Gatherer:   prometheus.DefaultGatherer,
		Logger:     appLogger,
	}, cfg.Server.Mode)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	egrp, egrpCtx := errgroup.WithContext(ctx)
	manager.Launch(egrpCtx, egrp)

	egrp.Go(func() error {
		appLogger.WithFields(logger.Fields{
			"port":   cfg.Server.Port,
			"mode":   cfg.Server.Mode,
			"stores": manager.Names(),
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	egrp.Go(func() error {
		<-egrpCtx.Done()
		appLogger.Info("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = egrp.Wait()

	// Reconcilers have stopped; pending orders are cancelled, running ones resume on restart
	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if cerr := manager.Close(closeCtx); cerr != nil {
		appLogger.WithError(cerr).Error("Failed to close stores")
	}
	return err
}
