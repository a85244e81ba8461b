package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SAP-F-2025/copy-workflow-service/internal/artifacts"
	"github.com/SAP-F-2025/copy-workflow-service/internal/cache"
	"github.com/SAP-F-2025/copy-workflow-service/internal/config"
	"github.com/SAP-F-2025/copy-workflow-service/internal/flattener"
	"github.com/SAP-F-2025/copy-workflow-service/internal/handlers"
	"github.com/SAP-F-2025/copy-workflow-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/copy-workflow-service/internal/services"
	"github.com/SAP-F-2025/copy-workflow-service/internal/utils"
	"github.com/SAP-F-2025/copy-workflow-service/internal/validator"
	"github.com/SAP-F-2025/copy-workflow-service/internal/workers"
	"github.com/SAP-F-2025/copy-workflow-service/pkg"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger := utils.NewLogger(cfg.IsProduction())
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		return err
	}
	if err := pkg.AutoMigrate(db); err != nil {
		return err
	}
	repo := postgres.NewRepository(db)

	scoreCache := cache.NewNoopCache()
	if cfg.RedisEnabled {
		client, err := pkg.NewRedisClient(cfg)
		if err != nil {
			// Scores are recomputed from the database without a cache.
			logger.Warn("Redis unavailable, score cache disabled", "error", err)
		} else {
			defer client.Close()
			scoreCache = cache.NewRedisCache(client, "copy-workflow", logger)
		}
	}

	publisher, err := cfg.Events.CreateEventPublisher(logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("Failed to close event publisher", "error", err)
		}
	}()

	var store artifacts.Store = artifacts.NewDBStore(repo.Artifact())
	if cfg.Artifacts.Backend == "gcs" {
		gcsStore, err := artifacts.NewGCSStore(ctx, cfg.Artifacts.Bucket, cfg.Artifacts.Prefix, repo.Artifact())
		if err != nil {
			return err
		}
		defer gcsStore.Close()
		store = gcsStore
	}

	flatten := flattener.WithTimeout(
		flattener.NewHTTPFlattener(cfg.Flattener.URL, cfg.Flattener.Timeout, logger),
		cfg.Finalize.FlattenTimeout,
	)

	serviceManager := services.NewServiceManager(services.Dependencies{
		DB:        db,
		Repo:      repo,
		Publisher: publisher,
		Cache:     scoreCache,
		Flattener: flatten,
		Artifacts: store,
		Validator: validator.New(),
		Options:   services.OptionsFromConfig(cfg),
		Logger:    logger,
	})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	handlerLogger := utils.NewSlogLogger(logger)
	router := gin.New()
	router.Use(handlers.RecoveryMiddleware(handlerLogger), utils.LoggerMiddleware(handlerLogger))
	handlers.NewHandlerManager(serviceManager, handlerLogger).SetupRoutes(router)

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return workers.NewFinalizeWorker(serviceManager.Finalize(), cfg.Finalize.Workers, cfg.Finalize.PollInterval, logger).Run(gctx)
	})
	g.Go(func() error {
		return workers.NewLeaseSweeper(serviceManager.Lease(), cfg.Lease.SweepInterval, logger).Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
