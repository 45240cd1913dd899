package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"ordersaga/domain/event"
	pkguuid "ordersaga/pkg/uuid"
)

// Message statuses. A message is written pending inside the business
// transaction, becomes published once the broker accepted it and failed
// after the publish retry budget is spent.
const (
	StatusPending   = "pending"
	StatusPublished = "published"
	StatusFailed    = "failed"
)

// Message is one row of the outbox table.
type Message struct {
	ID          string
	EventID     string
	EventType   event.Type
	AggregateID string
	Payload     []byte
	Status      string
	RetryCount  int
	LastError   string
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// Store persists outbox messages in the service's own database, so the
// business row and its events commit or roll back together.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// AppendTx stages an event for publication inside the caller's
// transaction. The UNIQUE constraint on event_id makes re-staging the
// same event a conflict, not a duplicate publish.
func (s *Store) AppendTx(tx *sql.Tx, evt event.Event) error {
	body, err := event.Encode(evt)
	if err != nil {
		return err
	}

	meta := evt.Meta()
	_, err = tx.Exec(`
		INSERT INTO outbox (id, event_id, event_type, aggregate_id, payload, status, retry_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7)`,
		pkguuid.New(), meta.EventID, string(meta.EventType), meta.AggregateID, body, StatusPending, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append outbox message: %w", err)
	}
	return nil
}

// Pending returns up to limit pending messages, oldest first, preserving
// per-aggregate emission order.
func (s *Store) Pending(ctx context.Context, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, event_type, aggregate_id, payload, status, retry_count, created_at
		FROM outbox
		WHERE status = $1
		ORDER BY created_at ASC
		LIMIT $2`,
		StatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending outbox messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var eventType string
		if err := rows.Scan(&m.ID, &m.EventID, &eventType, &m.AggregateID, &m.Payload, &m.Status, &m.RetryCount, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}
		m.EventType = event.Type(eventType)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkPublished flips a batch of messages to published in one statement.
func (s *Store) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox
		SET status = $1, published_at = $2
		WHERE id = ANY($3)`,
		StatusPublished, time.Now().UTC(), pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("failed to mark outbox messages published: %w", err)
	}
	return nil
}

// RecordFailure increments a message's retry count and records the error;
// once the count reaches maxRetries the message is parked as failed and
// left for manual retry.
func (s *Store) RecordFailure(ctx context.Context, id, lastError string, maxRetries int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox
		SET retry_count = retry_count + 1,
		    last_error = $2,
		    status = CASE WHEN retry_count + 1 >= $3 THEN 'failed' ELSE status END
		WHERE id = $1`,
		id, lastError, maxRetries,
	)
	if err != nil {
		return fmt.Errorf("failed to record outbox failure: %w", err)
	}
	return nil
}

// RetryFailed resets up to limit failed messages back to pending so the
// publisher picks them up again. Returns how many were reset.
func (s *Store) RetryFailed(ctx context.Context, limit int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE outbox
		SET status = $1, retry_count = 0, last_error = ''
		WHERE id IN (
			SELECT id FROM outbox WHERE status = $2 ORDER BY created_at ASC LIMIT $3
		)`,
		StatusPending, StatusFailed, limit,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to retry failed outbox messages: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
