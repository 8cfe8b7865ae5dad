package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"membank-backend/infrastructure/config"
	"membank-backend/infrastructure/di"
	"membank-backend/interfaces/http/rest"
	"membank-backend/interfaces/http/rest/handlers"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	container, err := di.InitializeContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize container: %v", err)
	}
	defer container.Shutdown(ctx)

	memoryHandler := handlers.NewMemoryHandler(
		container.MemoryOrchestrator,
		container.SearchOrchestrator,
		container.STMStore,
		container.FactRepository,
		container.KV,
		container.Logger,
	)
	extractionHandler := handlers.NewExtractionHandler(container.JobManager, container.Logger)
	precomputeHandler := handlers.NewPrecomputeHandler(container.ProactiveCacher, container.Logger)
	healthHandler := handlers.NewHealthHandler(map[string]handlers.Pinger{
		"redis": func(ctx context.Context) error {
			return container.Redis.Ping(ctx).Err()
		},
		"postgres": func(ctx context.Context) error {
			return container.Postgres.Ping(ctx)
		},
		"neo4j": func(ctx context.Context) error {
			return container.Neo4j.VerifyConnectivity(ctx)
		},
	}, container.Logger)

	router := rest.NewRouter(memoryHandler, extractionHandler, precomputeHandler, healthHandler, container.Logger)

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		container.Logger.Info("Starting server",
			zap.String("address", cfg.ServerAddress),
			zap.String("environment", cfg.Environment),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			container.Logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	container.Logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		container.Logger.Error("Server shutdown error", zap.Error(err))
	}

	if err := container.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	log.Println("Server stopped")
}
