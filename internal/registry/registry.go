package registry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/aurawell/webhook-engine/internal/config"
	"github.com/aurawell/webhook-engine/internal/models"
)

// TestSender performs the synchronous one-shot test delivery fired on
// creation and by the explicit send-test operation. Implemented by the
// delivery worker; injected to keep the dependency one-way.
type TestSender interface {
	SendTest(ctx context.Context, sub *models.WebhookSubscription) (*models.DeliveryAttempt, error)
}

// Registry owns webhook subscription CRUD and its invariants
type Registry struct {
	db         *gorm.DB
	appCfg     *config.AppConfig
	webhookCfg *config.WebhookConfig
	logger     *zap.Logger
	testSender TestSender
}

// NewRegistry creates a registry instance with dependencies
func NewRegistry(db *gorm.DB, appCfg *config.AppConfig, webhookCfg *config.WebhookConfig, logger *zap.Logger) *Registry {
	return &Registry{
		db:         db,
		appCfg:     appCfg,
		webhookCfg: webhookCfg,
		logger:     logger,
	}
}

// SetTestSender wires the delivery worker in after construction
func (r *Registry) SetTestSender(sender TestSender) {
	r.testSender = sender
}

// CreateInput is the payload for Create
type CreateInput struct {
	URL         string
	Events      []string
	Description string
	Secret      string
}

// UpdateInput carries a partial update; nil fields are left untouched
type UpdateInput struct {
	URL         *string
	Events      []string
	Description *string
}

// Create validates and persists a new subscription, then fires one
// best-effort test delivery. The returned subscription carries the
// plaintext secret; this is the only read path that ever does.
func (r *Registry) Create(ctx context.Context, userID uuid.UUID, input CreateInput) (*models.WebhookSubscription, error) {
	if err := r.validateURL(input.URL); err != nil {
		return nil, err
	}

	events := models.FilterEventTypes(input.Events)
	if len(events) == 0 {
		return nil, &ValidationError{Field: "events", Reason: "no valid event types supplied"}
	}

	secret := input.Secret
	if secret == "" {
		generated, err := generateSecret()
		if err != nil {
			return nil, err
		}
		secret = generated
	}

	now := time.Now().UTC()
	sub := &models.WebhookSubscription{
		ID:           uuid.New(),
		UserID:       userID,
		URL:          input.URL,
		Events:       events,
		Description:  input.Description,
		Secret:       secret,
		Active:       true,
		FailureCount: 0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Lock the owner's rows before counting so concurrent creates serialize
	// on the limit check; a plain count-then-insert can commit past the
	// limit under READ COMMITTED. FOR UPDATE is invalid on aggregates, hence
	// the id pluck. sqlite has a single writer and no row locks, so the
	// clause is postgres-only.
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		owned := tx.Model(&models.WebhookSubscription{}).Where("user_id = ?", userID)
		if tx.Dialector.Name() == "postgres" {
			owned = owned.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var ids []uuid.UUID
		if err := owned.Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("failed to count subscriptions: %w", err)
		}
		if len(ids) >= r.webhookCfg.MaxPerUser {
			return &LimitExceededError{Limit: r.webhookCfg.MaxPerUser}
		}
		return tx.Create(sub).Error
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("Webhook subscription created",
		zap.String("webhook_id", sub.ID.String()),
		zap.String("user_id", userID.String()),
		zap.Strings("events", events),
	)

	// Best-effort test delivery. The subscription is already committed;
	// a failing endpoint is reported through the delivery log, not here.
	if r.testSender != nil {
		if _, err := r.testSender.SendTest(ctx, sub); err != nil {
			r.logger.Warn("Creation test delivery failed",
				zap.String("webhook_id", sub.ID.String()),
				zap.Error(err),
			)
		}
	}

	return sub, nil
}

// Update applies a partial update to an owned subscription
func (r *Registry) Update(ctx context.Context, webhookID, userID uuid.UUID, input UpdateInput) (*models.WebhookSubscription, error) {
	updates := map[string]interface{}{}

	if input.URL != nil {
		if err := r.validateURL(*input.URL); err != nil {
			return nil, err
		}
		updates["url"] = *input.URL
	}
	if input.Events != nil {
		events := models.FilterEventTypes(input.Events)
		if len(events) == 0 {
			return nil, &ValidationError{Field: "events", Reason: "no valid event types supplied"}
		}
		updates["events"] = models.EventTypeList(events)
	}
	if input.Description != nil {
		updates["description"] = *input.Description
	}

	if len(updates) == 0 {
		return nil, &ValidationError{Field: "body", Reason: "no fields supplied"}
	}
	updates["updated_at"] = time.Now().UTC()

	result := r.db.WithContext(ctx).Model(&models.WebhookSubscription{}).
		Where("id = ? AND user_id = ?", webhookID, userID).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &NotFoundError{WebhookID: webhookID.String()}
	}

	return r.Get(ctx, webhookID, userID)
}

// Delete removes an owned subscription
func (r *Registry) Delete(ctx context.Context, webhookID, userID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", webhookID, userID).
		Delete(&models.WebhookSubscription{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete subscription: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &NotFoundError{WebhookID: webhookID.String()}
	}

	r.logger.Info("Webhook subscription deleted",
		zap.String("webhook_id", webhookID.String()),
		zap.String("user_id", userID.String()),
	)
	return nil
}

// RegenerateSecret commits a new secret in a single UPDATE. The old
// secret stops verifying the instant the statement commits; there is no
// window where both are valid. Returns the subscription with the new
// plaintext secret.
func (r *Registry) RegenerateSecret(ctx context.Context, webhookID, userID uuid.UUID) (*models.WebhookSubscription, error) {
	secret, err := generateSecret()
	if err != nil {
		return nil, err
	}

	result := r.db.WithContext(ctx).Model(&models.WebhookSubscription{}).
		Where("id = ? AND user_id = ?", webhookID, userID).
		Updates(map[string]interface{}{
			"secret":     secret,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return nil, fmt.Errorf("failed to regenerate secret: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &NotFoundError{WebhookID: webhookID.String()}
	}

	r.logger.Info("Webhook secret regenerated",
		zap.String("webhook_id", webhookID.String()),
	)

	sub, err := r.loadOwned(ctx, webhookID, userID)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// SetActive toggles a subscription. Reactivating resets failure_count so
// the kill-switch does not immediately re-trip on the next terminal failure.
func (r *Registry) SetActive(ctx context.Context, webhookID, userID uuid.UUID, active bool) (*models.WebhookSubscription, error) {
	updates := map[string]interface{}{
		"active":     active,
		"updated_at": time.Now().UTC(),
	}
	if active {
		updates["failure_count"] = 0
	}

	result := r.db.WithContext(ctx).Model(&models.WebhookSubscription{}).
		Where("id = ? AND user_id = ?", webhookID, userID).
		Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to toggle subscription: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, &NotFoundError{WebhookID: webhookID.String()}
	}

	return r.Get(ctx, webhookID, userID)
}

// Get returns an owned subscription with the secret redacted
func (r *Registry) Get(ctx context.Context, webhookID, userID uuid.UUID) (*models.WebhookSubscription, error) {
	sub, err := r.loadOwned(ctx, webhookID, userID)
	if err != nil {
		return nil, err
	}
	sub.Secret = ""
	return sub, nil
}

// List returns all subscriptions for an owner with secrets redacted
func (r *Registry) List(ctx context.Context, userID uuid.UUID) ([]models.WebhookSubscription, error) {
	var subs []models.WebhookSubscription
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&subs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	for i := range subs {
		subs[i].Secret = ""
	}
	return subs, nil
}

// GetDeliveryLogs returns the attempt log for an owned subscription,
// newest first.
func (r *Registry) GetDeliveryLogs(ctx context.Context, webhookID, userID uuid.UUID, limit, offset int) ([]models.DeliveryAttempt, error) {
	if _, err := r.loadOwned(ctx, webhookID, userID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = 25
	}
	var attempts []models.DeliveryAttempt
	err := r.db.WithContext(ctx).
		Where("webhook_id = ?", webhookID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&attempts).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery attempts: %w", err)
	}
	return attempts, nil
}

// SendTest performs one synchronous test delivery for an owned subscription
func (r *Registry) SendTest(ctx context.Context, webhookID, userID uuid.UUID) (*models.DeliveryAttempt, error) {
	sub, err := r.loadOwned(ctx, webhookID, userID)
	if err != nil {
		return nil, err
	}
	if r.testSender == nil {
		return nil, fmt.Errorf("test sender not configured")
	}
	return r.testSender.SendTest(ctx, sub)
}

// loadOwned loads a subscription including its secret
func (r *Registry) loadOwned(ctx context.Context, webhookID, userID uuid.UUID) (*models.WebhookSubscription, error) {
	var sub models.WebhookSubscription
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", webhookID, userID).
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &NotFoundError{WebhookID: webhookID.String()}
		}
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	return &sub, nil
}

// validateURL checks the target URL scheme against the environment.
// Production accepts https only; other environments also allow http so
// local receivers work.
func (r *Registry) validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return &ValidationError{Field: "url", Reason: "not a valid URL"}
	}
	switch parsed.Scheme {
	case "https":
		return nil
	case "http":
		if r.appCfg.IsProduction() {
			return &ValidationError{Field: "url", Reason: "https is required"}
		}
		return nil
	default:
		return &ValidationError{Field: "url", Reason: "unsupported scheme " + parsed.Scheme}
	}
}
