package sqlite

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
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, payload, correlation_id, created_at, dispatched_at
		FROM conduct_outbox
		WHERE dispatched_at IS NULL
		ORDER BY created_at ASC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("conduct/sqlite: list pending outbox: %w", err)
	}
	defer rows.Close()

	var events []*outbox.Event
	for rows.Next() {
		evt := &outbox.Event{}
		if err := rows.Scan(
			&evt.ID, &evt.Name, &evt.Payload, &evt.CorrelationID,
			&evt.CreatedAt, &evt.DispatchedAt,
		); err != nil {
			return nil, fmt.Errorf("conduct/sqlite: scan outbox event: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conduct/sqlite: iterate outbox: %w", err)
	}
	return events, nil
}

// MarkDispatched records the dispatch time for an outbox event.
func (s *Store) MarkDispatched(ctx context.Context, eventID id.EventID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE conduct_outbox SET dispatched_at = ? WHERE id = ?`,
		at, eventID,
	)
	if err != nil {
		return fmt.Errorf("conduct/sqlite: mark dispatched: %w", err)
	}
	rows, _ := res.RowsAffected() //nolint:errcheck // driver always returns nil
	if rows == 0 {
		return conduct.ErrEventNotFound
	}
	return nil
}
