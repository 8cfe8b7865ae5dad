// Package rabbitmq implements the durable work queue backing the
// asynchronous extraction pipeline.
package rabbitmq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"membank-backend/application/ports"
	apperrors "membank-backend/pkg/errors"
)

// Queue is the RabbitMQ-backed message queue. Queues are declared durable
// and messages published persistent, so both survive a broker restart.
type Queue struct {
	conn   *amqp.Connection
	logger *zap.Logger
}

// NewQueue wraps an established connection
func NewQueue(conn *amqp.Connection, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{conn: conn, logger: logger}
}

var _ ports.MessageQueue = (*Queue)(nil)

// Publish sends one persistent message to a durable queue
func (q *Queue) Publish(ctx context.Context, queue string, body []byte) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return apperrors.NewTransientError("failed to open queue channel", err)
	}
	defer ch.Close()

	if _, err := declareQueue(ch, queue); err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return apperrors.NewTransientError("failed to publish message", err)
	}
	return nil
}

// Consume processes deliveries until the context is cancelled. The
// acknowledgement policy follows the handler's error classification:
// nil acks, a permanent error nacks without requeue (poison message),
// anything else nacks with requeue for a later attempt.
func (q *Queue) Consume(ctx context.Context, queue string, prefetch int, handler ports.MessageHandler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return apperrors.NewTransientError("failed to open queue channel", err)
	}
	defer ch.Close()

	if _, err := declareQueue(ch, queue); err != nil {
		return err
	}

	if prefetch <= 0 {
		prefetch = 1
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return apperrors.NewTransientError("failed to set queue prefetch", err)
	}

	deliveries, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return apperrors.NewTransientError("failed to start consuming", err)
	}

	q.logger.Info("queue consumer started",
		zap.String("queue", queue),
		zap.Int("prefetch", prefetch),
	)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return apperrors.NewTransientError("queue channel closed", nil)
			}
			q.handleDelivery(ctx, queue, delivery, handler)
		}
	}
}

func (q *Queue) handleDelivery(ctx context.Context, queue string, delivery amqp.Delivery, handler ports.MessageHandler) {
	err := handler(ctx, delivery.Body)
	switch {
	case err == nil:
		if ackErr := delivery.Ack(false); ackErr != nil {
			q.logger.Error("failed to ack message", zap.String("queue", queue), zap.Error(ackErr))
		}
	case apperrors.IsPermanent(err):
		q.logger.Error("dropping poison message",
			zap.String("queue", queue),
			zap.Error(err),
		)
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			q.logger.Error("failed to nack message", zap.String("queue", queue), zap.Error(nackErr))
		}
	default:
		q.logger.Warn("requeueing message after transient failure",
			zap.String("queue", queue),
			zap.Error(err),
		)
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			q.logger.Error("failed to requeue message", zap.String("queue", queue), zap.Error(nackErr))
		}
	}
}

func declareQueue(ch *amqp.Channel, queue string) (amqp.Queue, error) {
	declared, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return amqp.Queue{}, apperrors.NewTransientError("failed to declare queue", err)
	}
	return declared, nil
}
