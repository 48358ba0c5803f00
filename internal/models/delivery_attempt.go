package models

import (
	"time"

	"github.com/google/uuid"
)

// DeliveryAttempt is one row of the append-only delivery audit log.
// HTTPStatus 0 means the request never produced a response
// (network error or timeout).
type DeliveryAttempt struct {
	ID         int64     `gorm:"primary_key;autoIncrement" json:"id"`
	WebhookID  uuid.UUID `gorm:"type:uuid;not null;index" json:"webhook_id"`
	URL        string    `gorm:"not null" json:"url"`
	EventType  string    `gorm:"not null" json:"event_type"`
	HTTPStatus int       `gorm:"not null" json:"http_status"`
	Success    bool      `gorm:"not null" json:"success"`
	Error      *string   `json:"error"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
}

func (DeliveryAttempt) TableName() string {
	return "delivery_attempts"
}
