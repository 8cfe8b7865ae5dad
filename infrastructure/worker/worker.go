// Package worker hosts the background processes: the extraction queue
// consumer and the proactive cache scheduler.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"membank-backend/application/ports"
	"membank-backend/application/services"
)

// reconnectDelay paces consumer restarts after a broken channel
const reconnectDelay = 5 * time.Second

// ExtractionWorker consumes the durable extraction queue and drives the
// extraction service. The queue adapter owns the ack/nack policy; this loop
// only restarts consumption after transport failures.
type ExtractionWorker struct {
	queue      ports.MessageQueue
	queueName  string
	prefetch   int
	extraction *services.ExtractionService
	logger     *zap.Logger
}

// NewExtractionWorker creates the worker
func NewExtractionWorker(
	queue ports.MessageQueue,
	queueName string,
	prefetch int,
	extraction *services.ExtractionService,
	logger *zap.Logger,
) *ExtractionWorker {
	if prefetch <= 0 {
		prefetch = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExtractionWorker{
		queue:      queue,
		queueName:  queueName,
		prefetch:   prefetch,
		extraction: extraction,
		logger:     logger,
	}
}

// Run consumes until the context is cancelled
func (w *ExtractionWorker) Run(ctx context.Context) error {
	for {
		err := w.queue.Consume(ctx, w.queueName, w.prefetch, w.extraction.ProcessMessage)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.Error("queue consumption stopped, restarting",
			zap.String("queue", w.queueName),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(reconnectDelay):
		}
	}
}

// ProactiveScheduler runs the proactive cacher on a fixed interval
type ProactiveScheduler struct {
	cacher   *services.ProactiveCacher
	interval time.Duration
	logger   *zap.Logger
}

// NewProactiveScheduler creates the scheduler
func NewProactiveScheduler(cacher *services.ProactiveCacher, interval time.Duration, logger *zap.Logger) *ProactiveScheduler {
	if interval <= 0 {
		interval = 1800 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProactiveScheduler{cacher: cacher, interval: interval, logger: logger}
}

// Run ticks until the context is cancelled
func (s *ProactiveScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("proactive cache scheduler started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.cacher.UpdateAll(ctx); err != nil {
				s.logger.Error("proactive caching pass failed", zap.Error(err))
			}
		}
	}
}
