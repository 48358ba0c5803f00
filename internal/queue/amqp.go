package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/aurawell/webhook-engine/internal/config"
	"github.com/aurawell/webhook-engine/internal/models"
	"github.com/aurawell/webhook-engine/internal/rabbitmq"
)

// AMQPQueue is a durable job queue on RabbitMQ. Delayed jobs are published
// to a wait queue with a per-message TTL and dead-letter into the ready
// queue when the TTL expires. Expiry is checked at the queue head, so the
// backoff table must be monotonically increasing for delays to be exact;
// ours is.
type AMQPQueue struct {
	cfg         *config.QueueConfig
	conn        *rabbitmq.Connection
	logger      *zap.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	handler     Handler
	consumerTag string
	started     atomic.Bool // read by the consumer restart loop
}

// NewAMQPQueue creates an AMQP-backed job queue
func NewAMQPQueue(cfg *config.QueueConfig, conn *rabbitmq.Connection, logger *zap.Logger) *AMQPQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &AMQPQueue{
		cfg:         cfg,
		conn:        conn,
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		consumerTag: fmt.Sprintf("webhook-delivery-%d", time.Now().Unix()),
	}
}

// Enqueue publishes a job, routing through the wait queue when delayed
func (q *AMQPQueue) Enqueue(_ context.Context, job *models.DeliveryJob, notBefore time.Time) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery job: %w", err)
	}

	delay := time.Until(notBefore)
	if delay <= 0 {
		return q.conn.Publish(q.cfg.Exchange, q.cfg.RoutingKey, body, 0)
	}
	// Default exchange routes by queue name; TTL expiry dead-letters the
	// message into the ready queue.
	return q.conn.Publish("", q.cfg.WaitQueue, body, delay)
}

// Start declares the topology and begins consuming ready jobs
func (q *AMQPQueue) Start(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("handler is required")
	}
	q.handler = handler

	if err := q.conn.DeclareDelayTopology(q.cfg.Exchange, q.cfg.ReadyQueue, q.cfg.WaitQueue, q.cfg.RoutingKey); err != nil {
		return err
	}
	if err := q.conn.SetQoS(q.cfg.PrefetchCount); err != nil {
		return err
	}

	if err := q.startConsuming(); err != nil {
		return err
	}

	q.started.Store(true)
	q.logger.Info("AMQP job queue started",
		zap.String("ready_queue", q.cfg.ReadyQueue),
		zap.String("wait_queue", q.cfg.WaitQueue),
		zap.String("consumer_tag", q.consumerTag),
	)
	return nil
}

func (q *AMQPQueue) startConsuming() error {
	messages, err := q.conn.Consume(q.cfg.ReadyQueue, q.consumerTag)
	if err != nil {
		return fmt.Errorf("failed to start consuming from queue %s: %w", q.cfg.ReadyQueue, err)
	}
	go q.processMessages(messages)
	return nil
}

// Stop cancels the consumer. Queued jobs stay in the broker.
func (q *AMQPQueue) Stop() error {
	q.started.Store(false)
	q.cancel()
	if err := q.conn.CancelConsumer(q.consumerTag); err != nil {
		q.logger.Error("Failed to cancel consumer",
			zap.String("consumer_tag", q.consumerTag),
			zap.Error(err),
		)
	}
	return nil
}

func (q *AMQPQueue) processMessages(messages <-chan amqp.Delivery) {
	for {
		select {
		case <-q.ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				// Channel closed; wait for the connection manager to
				// recover, then re-register the consumer.
				for q.started.Load() {
					select {
					case <-q.ctx.Done():
						return
					default:
					}
					time.Sleep(2 * time.Second)
					if !q.conn.IsHealthy() {
						continue
					}
					if err := q.startConsuming(); err != nil {
						q.logger.Error("Failed to restart consumer after channel close",
							zap.String("ready_queue", q.cfg.ReadyQueue),
							zap.Error(err),
						)
						time.Sleep(5 * time.Second)
						continue
					}
					return
				}
				return
			}
			q.handleDelivery(msg)
		}
	}
}

func (q *AMQPQueue) handleDelivery(msg amqp.Delivery) {
	var job models.DeliveryJob
	if err := json.Unmarshal(msg.Body, &job); err != nil {
		q.logger.Error("Failed to unmarshal delivery job, rejecting",
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
		q.reject(msg)
		return
	}

	if err := q.handler(q.ctx, &job); err != nil {
		q.logger.Error("Job handler failed, rejecting",
			zap.String("job_id", job.ID.String()),
			zap.String("webhook_id", job.WebhookID.String()),
			zap.Error(err),
		)
		q.reject(msg)
		return
	}

	if err := msg.Ack(false); err != nil {
		q.logger.Error("Failed to ack message",
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
	}
}

// reject nacks without requeue: the retry state machine decides whether a
// job runs again, never the broker.
func (q *AMQPQueue) reject(msg amqp.Delivery) {
	if err := msg.Nack(false, false); err != nil {
		q.logger.Error("Failed to nack message",
			zap.Uint64("delivery_tag", msg.DeliveryTag),
			zap.Error(err),
		)
	}
}
