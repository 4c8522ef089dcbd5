// Package eventbus consumes domain events from RabbitMQ and dispatches them to
// webhook registrations.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/streadway/amqp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.10.0"
	"go.opentelemetry.io/otel/trace"

	"kambafy/internal/model"
	"kambafy/internal/store"
	"kambafy/internal/webhooks"
)

// Dispatcher is satisfied by *webhooks.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventName string, payload any, scope model.Scope) (model.DispatchResult, error)
}

// Channel is the subset of *amqp.Channel the consumer uses.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

type Consumer struct {
	Dispatcher Dispatcher
	Orders     webhooks.OrderLookup
	Logger     *slog.Logger
	// Prefetch bounds unacknowledged deliveries held by this consumer.
	Prefetch int

	validate *validator.Validate
}

func NewConsumer(d Dispatcher, orders webhooks.OrderLookup, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{Dispatcher: d, Orders: orders, Logger: logger, Prefetch: 8, validate: validator.New()}
}

// Dial opens a connection and channel to url.
func Dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return conn, ch, nil
}

// Run declares queue and handles its deliveries until ctx is done or the
// channel closes.
func (c *Consumer) Run(ctx context.Context, ch Channel, queue string) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if c.Prefetch > 0 {
		if err := ch.Qos(c.Prefetch, 0, false); err != nil {
			return fmt.Errorf("set qos: %w", err)
		}
	}
	deliveries, err := ch.Consume(queue, "kambafy-webhooks", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", queue, err)
	}
	c.Logger.Info("consuming webhook events", "queue", queue)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("amqp delivery channel closed")
			}
			c.Handle(ctx, d)
		}
	}
}

// Handle dispatches one message. Malformed or unresolvable messages are
// rejected without requeue; infrastructure failures are requeued.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier(d.Headers))
	ctx, span := otel.Tracer("kambafy/eventbus").Start(ctx, "eventbus.Handle",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKey.String("rabbitmq"),
			semconv.MessagingRabbitmqRoutingKeyKey.String(d.RoutingKey),
			attribute.Int("messaging.message_payload_size_bytes", len(d.Body)),
		))
	defer span.End()

	log := c.Logger.With("message_id", d.MessageId, "routing_key", d.RoutingKey)
	var req model.DispatchRequest
	if err := json.Unmarshal(d.Body, &req); err != nil {
		log.Warn("drop malformed webhook event", "error", err)
		span.RecordError(err)
		_ = d.Reject(false)
		return
	}
	if err := c.validate.Struct(req); err != nil {
		log.Warn("drop invalid webhook event", "error", err)
		_ = d.Reject(false)
		return
	}
	scope, err := webhooks.RequestScope(ctx, c.Orders, req)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, webhooks.ErrScopeRequired) ||
			errors.Is(err, webhooks.ErrDataRequired) || errors.Is(err, webhooks.ErrEventRequired) {
			log.Warn("drop unresolvable webhook event", "event", req.Event, "error", err)
			_ = d.Reject(false)
			return
		}
		log.Error("resolve webhook event scope", "event", req.Event, "error", err)
		_ = d.Nack(false, true)
		return
	}

	res, err := c.Dispatcher.Dispatch(ctx, req.Event, req.Data, scope)
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("drop webhook event for unknown resource", "event", req.Event, "error", err)
			_ = d.Reject(false)
			return
		}
		log.Error("dispatch webhook event", "event", req.Event, "error", err)
		_ = d.Nack(false, true)
		return
	}
	log.Info("webhook event dispatched", "event", req.Event, "triggered", res.Triggered, "successful", res.Successful, "failed", res.Failed)
	_ = d.Ack(false)
}

func headerCarrier(t amqp.Table) propagation.MapCarrier {
	m := propagation.MapCarrier{}
	for k, v := range t {
		if s, ok := v.(string); ok {
			m[k] = s
		}
	}
	return m
}
