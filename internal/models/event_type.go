package models

import (
	"fmt"
	"strings"
)

// EventType represents a domain event type that webhooks can subscribe to
type EventType string

const (
	UserCreated EventType = "user.created"
	UserUpdated EventType = "user.updated"
	UserDeleted EventType = "user.deleted"

	SubscriptionStarted   EventType = "subscription.started"
	SubscriptionRenewed   EventType = "subscription.renewed"
	SubscriptionCancelled EventType = "subscription.cancelled"
	SubscriptionExpired   EventType = "subscription.expired"

	MoodLogged        EventType = "mood.logged"
	MoodStreakUpdated EventType = "mood.streak_updated"
	MoodMilestone     EventType = "mood.milestone"

	ConversationStarted EventType = "conversation.started"
	ConversationMessage EventType = "conversation.message"

	JournalEntryCreated EventType = "journal.entry_created"

	TaskCreated   EventType = "task.created"
	TaskCompleted EventType = "task.completed"

	BuddyConnected EventType = "buddy.connected"
	BuddyActivity  EventType = "buddy.activity"

	AchievementUnlocked EventType = "achievement.unlocked"

	HealthDataSynced EventType = "health.data_synced"

	// WebhookTest is reserved for one-shot test deliveries and cannot
	// be subscribed to.
	WebhookTest EventType = "webhook.test"
)

// ValidEventTypes is the closed set of subscribable event types.
var ValidEventTypes = []EventType{
	UserCreated,
	UserUpdated,
	UserDeleted,
	SubscriptionStarted,
	SubscriptionRenewed,
	SubscriptionCancelled,
	SubscriptionExpired,
	MoodLogged,
	MoodStreakUpdated,
	MoodMilestone,
	ConversationStarted,
	ConversationMessage,
	JournalEntryCreated,
	TaskCreated,
	TaskCompleted,
	BuddyConnected,
	BuddyActivity,
	AchievementUnlocked,
	HealthDataSynced,
}

// IsValidEventType reports whether name is a subscribable event type
func IsValidEventType(name string) bool {
	for _, eventType := range ValidEventTypes {
		if string(eventType) == name {
			return true
		}
	}
	return false
}

// ParseEventType parses a string into an EventType
// Returns an error if the event type is unknown
func ParseEventType(name string) (EventType, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	for _, eventType := range ValidEventTypes {
		if string(eventType) == name {
			return eventType, nil
		}
	}

	return "", fmt.Errorf("unknown event type: %s", name)
}

// FilterEventTypes returns the members of names that belong to the closed
// taxonomy, de-duplicated and in input order.
func FilterEventTypes(names []string) []string {
	seen := make(map[string]bool, len(names))
	filtered := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if !IsValidEventType(name) || seen[name] {
			continue
		}
		seen[name] = true
		filtered = append(filtered, name)
	}
	return filtered
}
