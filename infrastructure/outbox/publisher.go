package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"ordersaga/domain/event"
)

// MessageStore is the slice of Store the publisher needs.
type MessageStore interface {
	Pending(ctx context.Context, limit int) ([]Message, error)
	MarkPublished(ctx context.Context, ids []string) error
	RecordFailure(ctx context.Context, id, lastError string, maxRetries int) error
}

// Publisher pushes decoded events to the broker, which stamps the full
// envelope headers on every message.
type Publisher interface {
	Publish(ctx context.Context, evt event.Event) error
}

// Relay polls the outbox table and publishes pending messages to the
// event bus. One relay runs per service process; ordering within a batch
// follows created_at.
type Relay struct {
	store        MessageStore
	publisher    Publisher
	logger       *zap.Logger
	pollInterval time.Duration
	batchSize    int
	maxRetries   int
}

func NewRelay(store MessageStore, publisher Publisher, logger *zap.Logger, pollInterval time.Duration, batchSize, maxRetries int) *Relay {
	return &Relay{
		store:        store,
		publisher:    publisher,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		maxRetries:   maxRetries,
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started",
		zap.Duration("poll_interval", r.pollInterval),
		zap.Int("batch_size", r.batchSize),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				r.logger.Error("outbox relay tick failed", zap.Error(err))
			}
		}
	}
}

// Tick drains one batch of pending messages. Broker failures mark the
// individual message, not the batch, so one poison message cannot stall
// the rest.
func (r *Relay) Tick(ctx context.Context) error {
	messages, err := r.store.Pending(ctx, r.batchSize)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		return nil
	}

	published := make([]string, 0, len(messages))
	for _, msg := range messages {
		evt, err := event.Decode(msg.Payload)
		if err != nil {
			// A payload that no longer decodes cannot ever publish;
			// its failures count it out to the failed state.
			r.logger.Error("undecodable outbox payload",
				zap.Error(err),
				zap.String("event_id", msg.EventID),
			)
			if err := r.store.RecordFailure(ctx, msg.ID, err.Error(), r.maxRetries); err != nil {
				r.logger.Error("failed to record outbox failure", zap.Error(err), zap.String("event_id", msg.EventID))
			}
			continue
		}

		if err := r.publisher.Publish(ctx, evt); err != nil {
			r.logger.Error("failed to publish outbox message",
				zap.Error(err),
				zap.String("event_id", msg.EventID),
				zap.String("event_type", string(msg.EventType)),
				zap.Int("retry_count", msg.RetryCount),
			)
			if err := r.store.RecordFailure(ctx, msg.ID, err.Error(), r.maxRetries); err != nil {
				r.logger.Error("failed to record outbox failure", zap.Error(err), zap.String("event_id", msg.EventID))
			}
			continue
		}
		published = append(published, msg.ID)
	}

	if len(published) > 0 {
		if err := r.store.MarkPublished(ctx, published); err != nil {
			// The broker already has these events; consumers must
			// tolerate the redelivery after the next poll.
			return err
		}
		r.logger.Info("published outbox batch", zap.Int("count", len(published)))
	}
	return nil
}
