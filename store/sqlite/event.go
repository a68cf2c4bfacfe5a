package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/commercekit/conduct"
	"github.com/commercekit/conduct/event"
	"github.com/commercekit/conduct/id"
)

// PublishEvent persists a new event.
func (s *Store) PublishEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conduct_events (id, name, payload, correlation_id, acked, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		evt.ID, evt.Name, evt.Payload, evt.CorrelationID, evt.Acked, evt.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			// Redelivery from the outbox dispatcher; the event is already
			// visible to subscribers.
			return nil
		}
		return fmt.Errorf("conduct/sqlite: publish event: %w", err)
	}
	return nil
}

// SubscribeEvent waits for an unacked event matching the given name.
// Poll-based with short intervals.
func (s *Store) SubscribeEvent(ctx context.Context, name string, timeout time.Duration) (*event.Event, error) {
	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if time.Now().After(deadline) {
			return nil, nil
		}

		evt := &event.Event{}
		err := s.db.QueryRowContext(ctx, `
			SELECT id, name, payload, correlation_id, acked, created_at
			FROM conduct_events
			WHERE name = ? AND acked = FALSE
			ORDER BY created_at ASC
			LIMIT 1`,
			name,
		).Scan(&evt.ID, &evt.Name, &evt.Payload, &evt.CorrelationID, &evt.Acked, &evt.CreatedAt)
		if err != nil {
			if isNoRows(err) {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(50 * time.Millisecond):
				}
				continue
			}
			return nil, fmt.Errorf("conduct/sqlite: subscribe event: %w", err)
		}
		return evt, nil
	}
}

// AckEvent acknowledges an event, marking it as consumed.
func (s *Store) AckEvent(ctx context.Context, eventID id.EventID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conduct_events SET acked = TRUE WHERE id = ?`,
		eventID,
	)
	if err != nil {
		return fmt.Errorf("conduct/sqlite: ack event: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return conduct.ErrEventNotFound
	}
	return nil
}
