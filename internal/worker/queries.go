package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aurawell/webhook-engine/internal/models"
)

// loadSubscription loads the current row for a webhook, or nil if it has
// been deleted.
func loadSubscription(ctx context.Context, db *gorm.DB, webhookID uuid.UUID) (*models.WebhookSubscription, error) {
	var sub models.WebhookSubscription
	err := db.WithContext(ctx).Where("id = ?", webhookID).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return &sub, nil
}

// resetFailureCount sets failure_count back to 0 after a successful delivery
func resetFailureCount(ctx context.Context, db *gorm.DB, webhookID uuid.UUID) error {
	return db.WithContext(ctx).Model(&models.WebhookSubscription{}).
		Where("id = ?", webhookID).
		Updates(map[string]interface{}{
			"failure_count": 0,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// recordTerminalFailure increments failure_count by one and trips the
// kill-switch when the threshold is reached. Both statements are atomic
// SQL expressions: concurrent jobs for the same subscription must never
// read-modify-write this counter.
func recordTerminalFailure(ctx context.Context, db *gorm.DB, webhookID uuid.UUID, killThreshold int) (deactivated bool, err error) {
	err = db.WithContext(ctx).Model(&models.WebhookSubscription{}).
		Where("id = ?", webhookID).
		Updates(map[string]interface{}{
			"failure_count": gorm.Expr("failure_count + 1"),
			"updated_at":    time.Now().UTC(),
		}).Error
	if err != nil {
		return false, fmt.Errorf("failed to increment failure count: %w", err)
	}

	result := db.WithContext(ctx).Model(&models.WebhookSubscription{}).
		Where("id = ? AND active = ? AND failure_count >= ?", webhookID, true, killThreshold).
		Updates(map[string]interface{}{
			"active":     false,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, fmt.Errorf("failed to apply kill-switch: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// recordAttempt appends one row to the delivery audit log
func recordAttempt(ctx context.Context, db *gorm.DB, webhookID uuid.UUID, url, eventType string, result *DeliveryResult) (*models.DeliveryAttempt, error) {
	attempt := &models.DeliveryAttempt{
		WebhookID:  webhookID,
		URL:        url,
		EventType:  eventType,
		HTTPStatus: result.HTTPStatus,
		Success:    result.Success,
		Error:      result.ErrorText(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(attempt).Error; err != nil {
		return nil, fmt.Errorf("failed to create delivery attempt log: %w", err)
	}
	return attempt, nil
}
