package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aurawell/webhook-engine/internal/models"
	"github.com/aurawell/webhook-engine/internal/queue"
)

// Dispatcher routes domain events to matching webhook subscriptions.
// Triggering is read-then-enqueue: the caller never blocks on delivery
// and never learns a delivery outcome.
type Dispatcher struct {
	db     *gorm.DB
	jobs   queue.JobQueue
	logger *zap.Logger
	now    func() time.Time
}

// NewDispatcher creates a dispatcher instance with dependencies
func NewDispatcher(db *gorm.DB, jobs queue.JobQueue, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		db:     db,
		jobs:   jobs,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// TriggerResult reports how many deliveries were enqueued
type TriggerResult struct {
	Triggered int         `json:"triggered"`
	JobIDs    []uuid.UUID `json:"job_ids"`
}

// TriggerEvent fans a domain event out to every active subscription of
// userID whose event set contains eventType. One job is enqueued per
// match with the payload snapshotted at trigger time. Zero matches is a
// successful no-op.
func (d *Dispatcher) TriggerEvent(ctx context.Context, eventType string, userID uuid.UUID, payload map[string]interface{}) (*TriggerResult, error) {
	parsed, err := models.ParseEventType(eventType)
	if err != nil {
		return nil, err
	}

	subs, err := getMatchingSubscriptions(ctx, d.db, userID, string(parsed))
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return &TriggerResult{Triggered: 0, JobIDs: []uuid.UUID{}}, nil
	}

	now := d.now()
	jobIDs := make([]uuid.UUID, 0, len(subs))
	webhookIDs := make([]uuid.UUID, 0, len(subs))
	enqueued := 0

	for _, sub := range subs {
		job := &models.DeliveryJob{
			ID:        uuid.New(),
			WebhookID: sub.ID,
			UserID:    userID,
			URL:       sub.URL,
			EventType: string(parsed),
			Payload:   payload,
			Attempt:   0,
			NotBefore: now,
		}
		if err := d.jobs.Enqueue(ctx, job, now); err != nil {
			d.logger.Error("Failed to enqueue delivery job",
				zap.String("webhook_id", sub.ID.String()),
				zap.String("event_type", string(parsed)),
				zap.Error(err),
			)
			continue
		}
		enqueued++
		jobIDs = append(jobIDs, job.ID)
		webhookIDs = append(webhookIDs, sub.ID)
	}

	if enqueued == 0 && len(subs) > 0 {
		return nil, fmt.Errorf("failed to enqueue any of %d delivery jobs", len(subs))
	}

	if err := touchLastTriggered(ctx, d.db, webhookIDs, now); err != nil {
		// Bookkeeping only; the jobs are already on the queue
		d.logger.Warn("Failed to update last_triggered_at",
			zap.String("event_type", string(parsed)),
			zap.Error(err),
		)
	}

	d.logger.Info("Event triggered",
		zap.String("event_type", string(parsed)),
		zap.String("user_id", userID.String()),
		zap.Int("triggered", enqueued),
	)

	return &TriggerResult{Triggered: enqueued, JobIDs: jobIDs}, nil
}
