package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"ordersaga/domain/event"
)

const (
	// Exchange is the single durable topic exchange all saga events flow
	// through.
	Exchange = "saga_events"
	// DeadLetterExchange receives messages rejected after the retry budget.
	DeadLetterExchange = "saga_events_dlx"
	// DeadLetterQueue collects everything routed through the DLX.
	DeadLetterQueue = "dead_letter_queue"

	retryCountHeader = "x-retry-count"
	maxRetryDelay    = 60 * time.Second
)

// Handler processes one decoded event. Returning an error engages the
// retry-then-DLQ machinery; domain rejections must be emitted as reply
// events, not returned from here.
type Handler func(ctx context.Context, evt event.Event) error

// DeadLetter is one message pulled out of the DLQ for inspection.
type DeadLetter struct {
	Event      json.RawMessage `json:"event"`
	Headers    map[string]any  `json:"headers"`
	RoutingKey string          `json:"routing_key"`
}

// EventBus is the RabbitMQ topic bus for saga events.
type EventBus struct {
	url     string
	logger  *zap.Logger
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

func NewEventBus(url string, logger *zap.Logger) *EventBus {
	return &EventBus{url: url, logger: logger}
}

// Connect dials RabbitMQ and declares the saga topology: the main topic
// exchange, the dead-letter exchange and the quorum DLQ bound to it.
func (b *EventBus) Connect() error {
	conn, err := amqp091.Dial(b.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	// Prefetch 1 caps in-flight work per consumer and gives fair dispatch.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := ch.ExchangeDeclare(DeadLetterExchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare dead letter exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(DeadLetterQueue, true, false, false, false, amqp091.Table{
		"x-queue-type": "quorum",
	}); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare dead letter queue: %w", err)
	}

	// Dead-letter routing keys are "dlq.<pattern>", so one binding catches
	// them all.
	if err := ch.QueueBind(DeadLetterQueue, "dlq.#", DeadLetterExchange, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to bind dead letter queue: %w", err)
	}

	b.conn = conn
	b.channel = ch

	b.logger.Info("connected to RabbitMQ", zap.String("exchange", Exchange))
	return nil
}

// Close closes the channel and connection.
func (b *EventBus) Close() error {
	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// Publish encodes an event and publishes it persistently, routed by its
// event type.
func (b *EventBus) Publish(ctx context.Context, evt event.Event) error {
	body, err := event.Encode(evt)
	if err != nil {
		return err
	}

	meta := evt.Meta()
	if err := b.publish(ctx, string(meta.EventType), body, eventHeaders(meta)); err != nil {
		return fmt.Errorf("failed to publish event %s: %w", meta.EventType, err)
	}

	b.logger.Info("published event",
		zap.String("event_type", string(meta.EventType)),
		zap.String("event_id", meta.EventID),
		zap.String("correlation_id", meta.CorrelationID),
	)
	return nil
}

// eventHeaders builds the message headers every published event carries.
func eventHeaders(meta *event.Envelope) amqp091.Table {
	return amqp091.Table{
		"event_type":     string(meta.EventType),
		"event_id":       meta.EventID,
		"correlation_id": meta.CorrelationID,
		"version":        int32(meta.Version),
	}
}

func (b *EventBus) publish(ctx context.Context, routingKey string, body []byte, headers amqp091.Table) error {
	if b.channel == nil {
		return fmt.Errorf("event bus not connected")
	}

	return b.channel.PublishWithContext(ctx, Exchange, routingKey, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp091.Persistent,
		Headers:      headers,
	})
}

// Subscribe declares a durable quorum queue bound to the exchange with the
// given topic pattern and runs a consumer loop until ctx is cancelled.
//
// Failed handler calls are retried with exponential backoff by
// republishing the message with an incremented x-retry-count; once the
// count exceeds maxRetries the delivery is rejected without requeue and
// the DLX routes it to the DLQ under "dlq.<pattern>".
func (b *EventBus) Subscribe(ctx context.Context, pattern, queueName string, handler Handler, maxRetries int) error {
	if b.channel == nil {
		return fmt.Errorf("event bus not connected")
	}

	queue, err := b.channel.QueueDeclare(queueName, true, false, false, false, amqp091.Table{
		"x-queue-type":              "quorum",
		"x-dead-letter-exchange":    DeadLetterExchange,
		"x-dead-letter-routing-key": "dlq." + pattern,
	})
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}

	if err := b.channel.QueueBind(queue.Name, pattern, Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", queueName, err)
	}

	msgs, err := b.channel.Consume(queue.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume from %s: %w", queueName, err)
	}

	go func() {
		b.logger.Info("subscribed",
			zap.String("pattern", pattern),
			zap.String("queue", queueName),
		)

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				b.handleDelivery(ctx, &msg, handler, maxRetries)
			}
		}
	}()

	return nil
}

func (b *EventBus) handleDelivery(ctx context.Context, msg *amqp091.Delivery, handler Handler, maxRetries int) {
	evt, err := event.Decode(msg.Body)
	if err != nil {
		// Malformed payloads are programmer errors: drop them instead of
		// blocking the queue with retries.
		b.logger.Error("dropping undecodable message",
			zap.Error(err),
			zap.String("routing_key", msg.RoutingKey),
		)
		msg.Ack(false)
		return
	}

	meta := evt.Meta()
	retryCount := headerInt(msg.Headers, retryCountHeader)

	b.logger.Info("processing event",
		zap.String("event_type", string(meta.EventType)),
		zap.String("event_id", meta.EventID),
		zap.Int("retry", retryCount),
	)

	if err := handler(ctx, evt); err == nil {
		msg.Ack(false)
		return
	} else {
		b.logger.Error("handler failed",
			zap.Error(err),
			zap.String("event_type", string(meta.EventType)),
			zap.String("event_id", meta.EventID),
		)
	}

	retryCount++
	if retryCount > maxRetries {
		b.logger.Error("max retries exceeded, dead-lettering",
			zap.String("event_id", meta.EventID),
			zap.Int("retries", retryCount),
		)
		msg.Nack(false, false)
		return
	}

	if !sleep(ctx, retryDelay(retryCount)) {
		// Shutting down: requeue so another consumer picks it up.
		msg.Nack(false, true)
		return
	}

	headers := amqp091.Table{}
	for k, v := range msg.Headers {
		headers[k] = v
	}
	headers[retryCountHeader] = int32(retryCount)

	// Republish with the delivery's own routing key so wildcard
	// subscriptions retry through the same binding.
	if err := b.publish(ctx, msg.RoutingKey, msg.Body, headers); err != nil {
		b.logger.Error("failed to republish for retry",
			zap.Error(err),
			zap.String("event_id", meta.EventID),
		)
		msg.Nack(false, true)
		return
	}

	b.logger.Info("requeued for retry",
		zap.String("event_id", meta.EventID),
		zap.Int("attempt", retryCount),
		zap.Int("max_retries", maxRetries),
	)
	msg.Ack(false)
}

// DrainDLQ pulls up to limit messages from the dead letter queue,
// acknowledging each, and returns them with their headers and original
// routing key.
func (b *EventBus) DrainDLQ(limit int) ([]DeadLetter, error) {
	if b.channel == nil {
		return nil, fmt.Errorf("event bus not connected")
	}

	letters := make([]DeadLetter, 0, limit)
	for i := 0; i < limit; i++ {
		msg, ok, err := b.channel.Get(DeadLetterQueue, false)
		if err != nil {
			return letters, fmt.Errorf("failed to read dead letter queue: %w", err)
		}
		if !ok {
			break
		}

		headers := make(map[string]any, len(msg.Headers))
		for k, v := range msg.Headers {
			headers[k] = v
		}

		letters = append(letters, DeadLetter{
			Event:      json.RawMessage(msg.Body),
			Headers:    headers,
			RoutingKey: msg.RoutingKey,
		})

		msg.Ack(false)
	}

	return letters, nil
}

// Replay republishes an event with fresh headers, clearing any retry
// count.
func (b *EventBus) Replay(ctx context.Context, evt event.Event) error {
	if err := b.Publish(ctx, evt); err != nil {
		return err
	}
	b.logger.Info("replayed event", zap.String("event_id", evt.Meta().EventID))
	return nil
}

// retryDelay returns the backoff before retry attempt n: min(2^n, 60)s.
func retryDelay(retryCount int) time.Duration {
	d := time.Duration(1<<uint(retryCount)) * time.Second
	if d > maxRetryDelay || d <= 0 {
		return maxRetryDelay
	}
	return d
}

// headerInt reads an integer AMQP header, tolerating the integer widths
// different publishers use.
func headerInt(headers amqp091.Table, key string) int {
	if headers == nil {
		return 0
	}
	switch v := headers[key].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	default:
		return 0
	}
}

// sleep waits for d or until ctx is cancelled; false means cancelled.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
