// Package outbox implements the transactional outbox: events are written
// to a local table inside the same transaction as the state change they
// describe, then dispatched asynchronously by a poll loop. Downstream
// consumers therefore see an event if and only if the corresponding
// state change durably committed.
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/commercekit/conduct/id"
)

// Event is a pending outbound notification. Payload is the JSON-encoded
// domain event; CorrelationID ties it back to the workflow run that
// produced it.
type Event struct {
	ID            id.EventID `json:"id"`
	Name          string     `json:"name"`
	Payload       []byte     `json:"payload,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	DispatchedAt  *time.Time `json:"dispatched_at,omitempty"`
}

// New builds an Event with a fresh ID, JSON-encoding the payload.
func New(name string, payload any, correlationID string) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("outbox: marshal %q payload: %w", name, err)
	}
	return &Event{
		ID:            id.NewEventID(),
		Name:          name,
		Payload:       data,
		CorrelationID: correlationID,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Dispatched reports whether the event has been published downstream.
func (e *Event) Dispatched() bool { return e.DispatchedAt != nil }
