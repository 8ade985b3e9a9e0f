package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/matchbot/reconcile/internal/config"
	"github.com/matchbot/reconcile/internal/domain"
	"github.com/matchbot/reconcile/internal/eventbus"
	"github.com/matchbot/reconcile/internal/handler"
	"github.com/matchbot/reconcile/internal/objectstore"
	"github.com/matchbot/reconcile/internal/server"
	"github.com/matchbot/reconcile/internal/service"
	"github.com/matchbot/reconcile/internal/storage"
	"github.com/matchbot/reconcile/pkg/logger"
)

func main() {
	cfg := config.Load()

	log := logger.New(cfg.Logging.Level)
	defer log.Sync()

	ctx := context.Background()
	log.Info(ctx, "Starting application")

	repo := newRepository(ctx, cfg, log)
	store := newObjectStore(ctx, cfg, log)

	eventBusCfg := &eventbus.Config{
		ChannelBuffer: cfg.EventBus.ChannelBufferSize,
		MaxRetries:    cfg.Worker.MaxRetries,
	}
	bus := eventbus.New(log, eventBusCfg)
	log.Info(ctx, "Event bus initialized")

	extractor := service.NewExtractor(repo, store, cfg.Limits, log)
	reconciler, err := service.NewReconciler(repo, bus, cfg.Limits, log)
	if err != nil {
		log.Fatal(ctx, "Failed to initialize reconciler",
			"error", err,
		)
	}
	tracker := service.NewTracker(repo, store, bus, cfg.Limits, log)
	log.Info(ctx, "Services initialized")

	extractConsumer := eventbus.NewExtractConsumer(extractor, log, cfg.Worker.ExtractionPoolSize)
	jobConsumer := eventbus.NewJobConsumer(reconciler, log, cfg.Worker.ReconciliationPoolSize)
	notifyConsumer := eventbus.NewNotifyConsumer(eventbus.NewLogNotifier(log), log, 1)

	subscriptions := []struct {
		eventType eventbus.EventType
		consumer  eventbus.Consumer
	}{
		{eventbus.EventTypeFileExtract, extractConsumer},
		{eventbus.EventTypeJobRun, jobConsumer},
		{eventbus.EventTypeJobCompleted, notifyConsumer},
	}
	for _, sub := range subscriptions {
		if err := bus.Subscribe(sub.eventType, sub.consumer); err != nil {
			log.Fatal(ctx, "Failed to subscribe consumer",
				"event_type", sub.eventType,
				"error", err,
			)
		}
	}

	if err := bus.Start(ctx); err != nil {
		log.Fatal(ctx, "Failed to start event bus",
			"error", err,
		)
	}

	fileHandler := handler.NewFileHandler(tracker, extractor, log)
	jobHandler := handler.NewJobHandler(reconciler, log)
	healthHandler := handler.NewHealthHandler()
	log.Info(ctx, "Handlers initialized")

	srv := server.New(cfg, log, fileHandler, jobHandler, healthHandler)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal(ctx, "Failed to start HTTP server",
				"error", err,
			)
		}
	}()

	log.Info(ctx, "Application started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info(ctx, "Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Server.ShutdownTimeout)
	defer cancel()

	// Graceful shutdown in order:
	// 1. Stop accepting new HTTP requests
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "HTTP server shutdown error",
			"error", err,
		)
	}

	// 2. Stop event bus and wait for workers to finish
	if err := bus.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "Event bus shutdown error",
			"error", err,
		)
	}

	log.Info(ctx, "Application stopped gracefully")
}

func newRepository(ctx context.Context, cfg *config.Config, log *logger.Logger) domain.Repository {
	if cfg.Database.DSN == "" {
		log.Warn(ctx, "No database DSN configured, using in-memory store")
		return storage.NewMemoryStore()
	}

	store, err := storage.NewGormStore(cfg.Database.DSN)
	if err != nil {
		log.Fatal(ctx, "Failed to open database",
			"error", err,
		)
	}
	if err := store.AutoMigrate(); err != nil {
		log.Fatal(ctx, "Failed to run migrations",
			"error", err,
		)
	}
	log.Info(ctx, "Database initialized")
	return store
}

func newObjectStore(ctx context.Context, cfg *config.Config, log *logger.Logger) domain.ObjectStore {
	switch cfg.Storage.Backend {
	case "s3":
		store, err := objectstore.NewS3Store(ctx, objectstore.S3Options{
			Bucket:   cfg.Storage.Bucket,
			Region:   cfg.Storage.Region,
			Endpoint: cfg.Storage.Endpoint,
		})
		if err != nil {
			log.Fatal(ctx, "Failed to initialize S3 store",
				"error", err,
			)
		}
		log.Info(ctx, "S3 object store initialized",
			"bucket", cfg.Storage.Bucket,
		)
		return store
	default:
		store, err := objectstore.NewLocalStore(cfg.Storage.LocalDir)
		if err != nil {
			log.Fatal(ctx, "Failed to initialize local store",
				"error", err,
			)
		}
		log.Info(ctx, "Local object store initialized",
			"dir", cfg.Storage.LocalDir,
		)
		return store
	}
}
