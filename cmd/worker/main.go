// The worker process hosts the extraction queue consumer and the proactive
// cache scheduler.
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"membank-backend/infrastructure/config"
	"membank-backend/infrastructure/di"
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

	done := make(chan error, 2)
	go func() {
		done <- container.ExtractionWorker.Run(ctx)
	}()
	go func() {
		done <- container.ProactiveScheduler.Run(ctx)
	}()

	container.Logger.Info("Worker started",
		zap.String("queue", cfg.ExtractionQueue),
		zap.Int("prefetch", cfg.WorkerPrefetch),
		zap.Duration("proactive_interval", cfg.ProactiveInterval),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		container.Logger.Info("Shutting down worker...")
		cancel()
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			container.Logger.Error("Worker stopped unexpectedly", zap.Error(err))
		}
		cancel()
	}

	if err := container.Logger.Sync(); err != nil {
		log.Printf("Failed to sync logger: %v", err)
	}

	log.Println("Worker stopped")
}
