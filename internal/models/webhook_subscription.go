package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventTypeList is stored as a JSON array so the column is portable
// across postgres and the sqlite test database.
type EventTypeList []string

// Value implements driver.Valuer
func (l EventTypeList) Value() (driver.Value, error) {
	if l == nil {
		l = EventTypeList{}
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event type list: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (l *EventTypeList) Scan(value interface{}) error {
	if value == nil {
		*l = EventTypeList{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for event type list: %T", value)
	}
	return json.Unmarshal(data, l)
}

// Contains reports whether eventType is a member of the list
func (l EventTypeList) Contains(eventType string) bool {
	for _, e := range l {
		if e == eventType {
			return true
		}
	}
	return false
}

type WebhookSubscription struct {
	ID              uuid.UUID     `gorm:"type:uuid;primary_key" json:"id"`
	UserID          uuid.UUID     `gorm:"type:uuid;not null;index" json:"user_id"`
	URL             string        `gorm:"not null" json:"url"`
	Events          EventTypeList `gorm:"type:text;not null" json:"events"`
	Description     string        `json:"description"`
	Secret          string        `gorm:"not null" json:"-"` // secret for HMAC, never serialized
	Active          bool          `gorm:"not null;default:true" json:"active"`
	FailureCount    int           `gorm:"not null;default:0" json:"failure_count"`
	LastTriggeredAt *time.Time    `json:"last_triggered_at"`
	CreatedAt       time.Time     `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"not null" json:"updated_at"`
}

func (WebhookSubscription) TableName() string {
	return "webhook_subscriptions"
}
