package broadcast

import (
	"time"

	"github.com/google/uuid"

	"price-ingest-alerts/internal/snapshot"
)

// EventPriceUpdated is published once per product that gained observations.
const EventPriceUpdated = "price.updated"

// Event is the payload pushed to subscribers.
type Event struct {
	ID                  string            `json:"id"`
	Event               string            `json:"event"`
	Product             snapshot.Identity `json:"productIdentity"`
	NewObservationCount int               `json:"newObservationCount"`
	At                  time.Time         `json:"at"`
}

// PriceUpdated builds a price.updated event.
func PriceUpdated(product snapshot.Identity, added int, at time.Time) Event {
	return Event{
		ID:                  uuid.NewString(),
		Event:               EventPriceUpdated,
		Product:             product,
		NewObservationCount: added,
		At:                  at.UTC(),
	}
}

// Publisher is fire-and-forget: Publish never blocks and reports nothing.
type Publisher interface {
	Publish(event Event)
}

// Discard drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(Event) {}
