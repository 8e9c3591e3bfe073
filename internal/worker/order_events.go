package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"kitchenflow/internal/metrics"
	"kitchenflow/internal/model"
	"kitchenflow/internal/service"
)

var (
	ErrRequeue = errors.New("requeue")     // nack(requeue=true)
	ErrDLQ     = errors.New("dead_letter") // nack(requeue=false)
)

const (
	EventPreparationStarted  = "preparation_started"
	EventPreparationFinished = "preparation_finished"
)

// OrderEvent is the body of an order lifecycle message.
type OrderEvent struct {
	Event    string `json:"event"`
	TenantID string `json:"tenant_id"`
	OrderID  string `json:"order_id"`
}

// Tracker is the production side driven by order events.
type Tracker interface {
	StartPreparation(ctx context.Context, tenantID, orderID string) (*model.Order, error)
	FinishPreparation(ctx context.Context, tenantID, orderID string) (*model.Order, error)
}

// Source yields deliveries for a queue. *broker.Client satisfies it.
type Source interface {
	Consume(queue, consumer string, prefetch int) (<-chan amqp.Delivery, error)
}

type OrderEventConsumer struct {
	tracker  Tracker
	source   Source
	queue    string
	prefetch int
}

func NewOrderEventConsumer(tracker Tracker, source Source, queue string) *OrderEventConsumer {
	return &OrderEventConsumer{tracker: tracker, source: source, queue: queue, prefetch: 10}
}

// Start consumes until ctx is done or the delivery channel closes.
func (c *OrderEventConsumer) Start(ctx context.Context) error {
	msgs, err := c.source.Consume(c.queue, "kitchenflow", c.prefetch)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	slog.Info("consuming order events", "queue", c.queue, "prefetch", c.prefetch)
	c.Run(ctx, msgs)
	return nil
}

func (c *OrderEventConsumer) Run(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			slog.Info("order event consumer stopped")
			return
		case d, ok := <-msgs:
			if !ok {
				slog.Warn("order event channel closed", "queue", c.queue)
				return
			}
			err := c.processOne(ctx, d.Body)
			switch {
			case err == nil:
				metrics.OrderEventsTotal.WithLabelValues("ack").Inc()
				_ = d.Ack(false)
			case errors.Is(err, ErrRequeue):
				metrics.OrderEventsTotal.WithLabelValues("requeue").Inc()
				slog.Warn("order event requeued", "error", err)
				_ = d.Nack(false, true)
			default:
				metrics.OrderEventsTotal.WithLabelValues("dead_letter").Inc()
				slog.Error("order event dead-lettered", "error", err)
				_ = d.Nack(false, false)
			}
		}
	}
}

func (c *OrderEventConsumer) processOne(ctx context.Context, body []byte) error {
	var ev OrderEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrDLQ, err)
	}
	if ev.TenantID == "" || ev.OrderID == "" {
		return fmt.Errorf("%w: tenant_id and order_id are required", ErrDLQ)
	}

	var err error
	switch ev.Event {
	case EventPreparationStarted:
		_, err = c.tracker.StartPreparation(ctx, ev.TenantID, ev.OrderID)
	case EventPreparationFinished:
		_, err = c.tracker.FinishPreparation(ctx, ev.TenantID, ev.OrderID)
	default:
		return fmt.Errorf("%w: unknown event %q", ErrDLQ, ev.Event)
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrOrderNotFound),
		errors.Is(err, service.ErrInvalidTransition),
		errors.Is(err, service.ErrNotStarted):
		return fmt.Errorf("%w: %v", ErrDLQ, err)
	default:
		return fmt.Errorf("%w: %v", ErrRequeue, err)
	}
}
