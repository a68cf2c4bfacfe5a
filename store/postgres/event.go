package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/commercekit/conduct"
	"github.com/commercekit/conduct/event"
	"github.com/commercekit/conduct/id"
)

// PublishEvent persists a new event and notifies subscribers via LISTEN/NOTIFY.
func (s *Store) PublishEvent(ctx context.Context, evt *event.Event) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conduct_events (id, name, payload, correlation_id, acked, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		evt.ID, evt.Name, evt.Payload, evt.CorrelationID, evt.Acked, evt.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			// Redelivery from the outbox dispatcher; the event is already
			// visible to subscribers.
			return nil
		}
		return fmt.Errorf("conduct/postgres: publish event: %w", err)
	}

	// Notify listeners on the event channel.
	_, notifyErr := s.pool.Exec(ctx,
		`SELECT pg_notify('conduct_events', $1)`,
		evt.Name,
	)
	if notifyErr != nil {
		// The event is persisted, subscribers will fall back to polling.
		s.logger.Warn("failed to notify event subscribers",
			"event", evt.Name, "error", notifyErr)
	}

	return nil
}

// SubscribeEvent waits for an unacked event matching the given name.
// Uses a polling approach with short intervals. For production, consider
// upgrading to LISTEN/NOTIFY with a dedicated connection.
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

		row := s.pool.QueryRow(ctx, `
			SELECT id, name, payload, correlation_id, acked, created_at
			FROM conduct_events
			WHERE name = $1 AND acked = FALSE
			ORDER BY created_at ASC
			LIMIT 1`,
			name,
		)

		evt, err := scanEvent(row)
		if err != nil {
			if isNoRows(err) {
				// No event yet, wait and retry.
				sleepCtx(ctx, 50*time.Millisecond)
				continue
			}
			return nil, fmt.Errorf("conduct/postgres: subscribe event: %w", err)
		}
		return evt, nil
	}
}

// AckEvent acknowledges an event, marking it as consumed.
func (s *Store) AckEvent(ctx context.Context, eventID id.EventID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conduct_events SET acked = TRUE WHERE id = $1`,
		eventID,
	)
	if err != nil {
		return fmt.Errorf("conduct/postgres: ack event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conduct.ErrEventNotFound
	}
	return nil
}

// scanEvent scans a single event row.
func scanEvent(row pgx.Row) (*event.Event, error) {
	evt := &event.Event{}
	err := row.Scan(
		&evt.ID, &evt.Name, &evt.Payload,
		&evt.CorrelationID, &evt.Acked, &evt.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return evt, nil
}
