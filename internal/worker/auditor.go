package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/flicky/marketplace-api/internal/model"
	"github.com/flicky/marketplace-api/internal/service"
)

const (
	EventQueue     = "order.events"
	dlxExchange    = "order.events.dlx"
	dlqQueueName   = "order.events.dlq"
	idempotencyTTL = 24 * time.Hour
)

// Auditor checks the stored views of an order for drift.
type Auditor interface {
	AuditOrder(ctx context.Context, orderID int64, userID string) ([]service.Drift, error)
	AuditProduct(ctx context.Context, productID int64) ([]service.Drift, error)
}

// MirrorAuditor consumes order events and re-audits the touched order and
// product. Drift is logged, never repaired.
type MirrorAuditor struct {
	channel     *amqp.Channel
	auditor     Auditor
	redisClient *redis.Client
	log         *slog.Logger
	done        chan struct{}
}

// NewMirrorAuditor builds a consumer. redisClient may be nil, in which case
// redelivered events are audited again.
func NewMirrorAuditor(ch *amqp.Channel, auditor Auditor, redisClient *redis.Client, log *slog.Logger) *MirrorAuditor {
	return &MirrorAuditor{
		channel:     ch,
		auditor:     auditor,
		redisClient: redisClient,
		log:         log,
		done:        make(chan struct{}),
	}
}

// SetupRabbitMQ declares the event queue with its dead-letter exchange and
// queue.
func SetupRabbitMQ(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(dlxExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare DLX: %w", err)
	}
	if _, err := ch.QueueDeclare(dlqQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare DLQ: %w", err)
	}
	if err := ch.QueueBind(dlqQueueName, EventQueue, dlxExchange, false, nil); err != nil {
		return fmt.Errorf("bind DLQ: %w", err)
	}
	if _, err := ch.QueueDeclare(EventQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    dlxExchange,
		"x-dead-letter-routing-key": EventQueue,
	}); err != nil {
		return fmt.Errorf("declare event queue: %w", err)
	}
	return nil
}

func (w *MirrorAuditor) Start(ctx context.Context) error {
	if err := w.channel.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set QoS: %w", err)
	}
	msgs, err := w.channel.Consume(EventQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	go func() {
		for {
			select {
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				w.processMessage(ctx, msg)
			case <-w.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	w.log.Info("mirror auditor started", "queue", EventQueue)
	return nil
}

func (w *MirrorAuditor) Stop() { close(w.done) }

func (w *MirrorAuditor) processMessage(ctx context.Context, msg amqp.Delivery) {
	var event model.OrderEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		w.log.Error("unmarshal order event", "error", err)
		_ = msg.Nack(false, false)
		return
	}

	log := w.log.With("event_id", event.ID, "type", event.Type, "order_id", event.OrderID, "product_id", event.ProductID)

	idempotencyKey := "event_processed:" + event.ID.String()
	if w.redisClient != nil {
		exists, err := w.redisClient.Exists(ctx, idempotencyKey).Result()
		if err != nil {
			log.Error("check idempotency key", "error", err)
			_ = msg.Nack(false, true)
			return
		}
		if exists > 0 {
			log.Info("event already processed, skipping")
			_ = msg.Ack(false)
			return
		}
	}

	drift, err := w.audit(ctx, event)
	if err != nil {
		log.Error("audit failed", "error", err)
		_ = msg.Nack(false, false)
		return
	}
	for _, d := range drift {
		log.Warn("order drift", "drift_order_id", d.OrderID, "user_id", d.UserID, "view", d.View, "detail", d.Detail)
	}

	if w.redisClient != nil {
		if err := w.redisClient.Set(ctx, idempotencyKey, "1", idempotencyTTL).Err(); err != nil {
			log.Error("set idempotency key", "error", err)
		}
	}

	_ = msg.Ack(false)
	log.Info("event audited", "drift", len(drift))
}

func (w *MirrorAuditor) audit(ctx context.Context, event model.OrderEvent) ([]service.Drift, error) {
	var drift []service.Drift
	if event.OrderID != 0 {
		d, err := w.auditor.AuditOrder(ctx, event.OrderID, event.UserID)
		if err != nil {
			return nil, fmt.Errorf("audit order %d: %w", event.OrderID, err)
		}
		drift = append(drift, d...)
	}
	if event.ProductID != 0 {
		d, err := w.auditor.AuditProduct(ctx, event.ProductID)
		if err != nil {
			return nil, fmt.Errorf("audit product %d: %w", event.ProductID, err)
		}
		drift = append(drift, d...)
	}
	return drift, nil
}
