package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aurawell/webhook-engine/internal/models"
)

// getMatchingSubscriptions returns the owner's active subscriptions whose
// event set contains eventType. Membership is exact string equality; the
// events column is a JSON array, so the final filter runs in Go.
func getMatchingSubscriptions(ctx context.Context, db *gorm.DB, userID uuid.UUID, eventType string) ([]models.WebhookSubscription, error) {
	var subs []models.WebhookSubscription
	err := db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load subscriptions: %w", err)
	}

	matched := subs[:0]
	for _, sub := range subs {
		if sub.Events.Contains(eventType) {
			matched = append(matched, sub)
		}
	}
	return matched, nil
}

// touchLastTriggered batch-updates last_triggered_at for all matched
// subscriptions.
func touchLastTriggered(ctx context.Context, db *gorm.DB, webhookIDs []uuid.UUID, at time.Time) error {
	if len(webhookIDs) == 0 {
		return nil
	}
	return db.WithContext(ctx).Model(&models.WebhookSubscription{}).
		Where("id IN ?", webhookIDs).
		Updates(map[string]interface{}{
			"last_triggered_at": at,
			"updated_at":        at,
		}).Error
}
