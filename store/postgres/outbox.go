package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/commercekit/conduct"
	"github.com/commercekit/conduct/id"
	"github.com/commercekit/conduct/outbox"
)

// ListPending returns up to limit undispatched outbox events in enqueue
// order.
func (s *Store) ListPending(ctx context.Context, limit int) ([]*outbox.Event, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, payload, correlation_id, created_at, dispatched_at
		FROM conduct_outbox
		WHERE dispatched_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("conduct/postgres: list pending outbox: %w", err)
	}
	defer rows.Close()

	var events []*outbox.Event
	for rows.Next() {
		evt := &outbox.Event{}
		if err := rows.Scan(
			&evt.ID, &evt.Name, &evt.Payload, &evt.CorrelationID,
			&evt.CreatedAt, &evt.DispatchedAt,
		); err != nil {
			return nil, fmt.Errorf("conduct/postgres: scan outbox event: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conduct/postgres: iterate outbox: %w", err)
	}
	return events, nil
}

// MarkDispatched records the dispatch time for an outbox event.
func (s *Store) MarkDispatched(ctx context.Context, eventID id.EventID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conduct_outbox SET dispatched_at = $2 WHERE id = $1`,
		eventID, at,
	)
	if err != nil {
		return fmt.Errorf("conduct/postgres: mark dispatched: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conduct.ErrEventNotFound
	}
	return nil
}
