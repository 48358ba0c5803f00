package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryJob carries one pending delivery through the job queue.
// It snapshots the payload at trigger time so later subscription edits
// do not change what is delivered. Attempt counts deliveries already
// made; the job is destroyed on terminal success or terminal failure.
type DeliveryJob struct {
	ID        uuid.UUID              `json:"id"`
	WebhookID uuid.UUID              `json:"webhook_id"`
	UserID    uuid.UUID              `json:"user_id"`
	URL       string                 `json:"url"`
	EventType string                 `json:"event_type"`
	Payload   map[string]interface{} `json:"payload"`
	Attempt   int                    `json:"attempt"`
	NotBefore time.Time              `json:"not_before"`
}
