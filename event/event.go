package event

import (
	"time"

	"github.com/commercekit/conduct/id"
)

// Event is a named notification delivered to in-process consumers.
// Downstream handlers wait for events by name, enabling external
// triggers and coordination between shipping flows and their consumers.
type Event struct {
	ID            id.EventID `json:"id"`
	Name          string     `json:"name"`
	Payload       []byte     `json:"payload,omitempty"`
	CorrelationID string     `json:"correlation_id,omitempty"`
	Acked         bool       `json:"acked"`
	CreatedAt     time.Time  `json:"created_at"`
}
