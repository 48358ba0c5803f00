package models

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent is an occurrence produced by the rest of the application.
// Events are ephemeral - they fan out into delivery jobs and are never
// persisted themselves.
type DomainEvent struct {
	EventType  EventType              `json:"event_type"`
	UserID     uuid.UUID              `json:"user_id"`
	Payload    map[string]interface{} `json:"payload"`
	OccurredAt time.Time              `json:"occurred_at"`
}
