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

	"tonnage-service/internal/auth"
	"tonnage-service/internal/cache"
	"tonnage-service/internal/config"
	"tonnage-service/internal/db"
	"tonnage-service/internal/domain/tonnage"
	httphandler "tonnage-service/internal/http"
	"tonnage-service/internal/http/middleware"
	"tonnage-service/internal/logger"
	"tonnage-service/internal/repository"
	"tonnage-service/internal/service"
	"tonnage-service/internal/storage"
	"tonnage-service/internal/vision"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(cfg.Environment)

	database, err := db.New(cfg, appLogger)
	if err != nil {
		appLogger.Fatal().Err(err).Msg("failed to connect database")
	}

	vehicleRepo := repository.NewVehicleRepository(database)
	historyRepo := repository.NewHistoryRepository(database)

	analysisCache := cache.New(cache.NewMemoryStore(cfg.Cache.MaxEntries))
	visionClient := vision.NewHTTPClient(cfg.Vision.Endpoint, cfg.Vision.APIKey, cfg.Vision.Timeout)

	// Snapshot storage is optional, the service runs without it
	var snapshots service.SnapshotStore
	snapshotStore, err := storage.NewSnapshotStoreFromEnv()
	if err != nil && !errors.Is(err, storage.ErrNotConfigured) {
		appLogger.Fatal().Err(err).Msg("failed to initialize snapshot storage")
	}
	if err != nil {
		appLogger.Warn().Msg("snapshot storage not configured, image uploads will be disabled")
	} else {
		snapshots = snapshotStore
	}

	inference := tonnage.InferenceConfig{
		ModelID:             cfg.Vision.ModelID,
		EnsembleSize:        cfg.Vision.EnsembleSize,
		MinConfidence:       cfg.Vision.MinConfidence,
		OverloadToleranceKg: cfg.Overload.DefaultToleranceKg,
	}
	analysisService := service.NewAnalysisService(
		analysisCache,
		visionClient,
		vehicleRepo,
		historyRepo,
		snapshots,
		inference,
		cfg.Overload.DefaultToleranceKg,
		appLogger,
	)

	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)

	handler := httphandler.NewHandler(analysisService, cfg, appLogger)
	authMiddleware := middleware.Auth(tokenParser)
	router := httphandler.NewRouter(handler, authMiddleware, cfg.Environment, database, appLogger)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	appLogger.Info().Str("addr", addr).Msg("starting tonnage service")

	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error().Err(err).Msg("failed to start server")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error().Err(err).Msg("server forced to shutdown")
	}

	appLogger.Info().Msg("server exited")
}
