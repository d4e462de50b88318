// Package events defines the envelope published on the message bus.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Envelope is the wire shape of every published event.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	SourceService string          `json:"source_service"`
	OccurredAtUTC time.Time       `json:"occurred_at_utc"`
	EntityType    string          `json:"entity_type"`
	EntityID      string          `json:"entity_id"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// New builds an envelope stamped with a fresh event id and the current
// UTC time.
func New(eventType, sourceService, entityType, entityID string, payload []byte) Envelope {
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		SourceService: sourceService,
		OccurredAtUTC: time.Now().UTC(),
		EntityType:    entityType,
		EntityID:      entityID,
		Payload:       payload,
	}
}

// Encode renders the envelope as JSON for the bus.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
