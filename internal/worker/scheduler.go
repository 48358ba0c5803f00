package worker

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aurawell/webhook-engine/internal/config"
	"github.com/aurawell/webhook-engine/internal/models"
	"github.com/aurawell/webhook-engine/internal/queue"
)

// infraRetryDelay is the pause before a job is retried after an
// infrastructure fault that prevented any delivery attempt.
const infraRetryDelay = 10 * time.Second

// Scheduler owns the per-job retry state machine. The queue hands it
// ready jobs; each job makes one delivery attempt and either completes,
// re-enqueues itself with backoff, or fails terminally and updates the
// subscription's failure bookkeeping.
type Scheduler struct {
	db        *gorm.DB
	cfg       *config.WebhookConfig
	jobs      queue.JobQueue
	deliverer *Deliverer
	logger    *zap.Logger
	now       func() time.Time
}

// NewScheduler creates a scheduler with dependencies
func NewScheduler(db *gorm.DB, cfg *config.WebhookConfig, jobs queue.JobQueue, deliverer *Deliverer, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		db:        db,
		cfg:       cfg,
		jobs:      jobs,
		deliverer: deliverer,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Start registers the scheduler as the queue's job handler
func (s *Scheduler) Start() error {
	return s.jobs.Start(s.HandleJob)
}

// Stop stops the underlying queue
func (s *Scheduler) Stop() error {
	return s.jobs.Stop()
}

// HandleJob runs one delivery attempt for a ready job.
// An error is returned only when the job could not be handled at all and
// could not be put back; once the HTTP request has gone out, the outcome
// is fully absorbed into the state machine and the delivery log.
func (s *Scheduler) HandleJob(ctx context.Context, job *models.DeliveryJob) error {
	// Re-check the subscription right before sending. Deactivated or
	// deleted means the job dies here: no request, no log row, no
	// attempt consumed.
	sub, err := loadSubscription(ctx, s.db, job.WebhookID)
	if err != nil {
		// No attempt was made, so the job must not be lost. Put it back
		// with a short pause; the attempt counter is untouched.
		s.logger.Error("Failed to load subscription, requeueing job",
			zap.String("job_id", job.ID.String()),
			zap.String("webhook_id", job.WebhookID.String()),
			zap.Error(err),
		)
		if qErr := s.jobs.Enqueue(ctx, job, s.now().Add(infraRetryDelay)); qErr != nil {
			s.logger.Error("Failed to requeue job",
				zap.String("job_id", job.ID.String()),
				zap.Error(qErr),
			)
			return err
		}
		return nil
	}
	if sub == nil || !sub.Active {
		s.logger.Debug("Dropping job for inactive subscription",
			zap.String("job_id", job.ID.String()),
			zap.String("webhook_id", job.WebhookID.String()),
		)
		return nil
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.HTTPTimeout)
	result := s.deliverer.Deliver(attemptCtx, job.ID, job.URL, job.EventType, job.Payload, sub.Secret)
	cancel()

	attemptNo := job.Attempt + 1
	s.logAttempt(ctx, job, result)

	if result.Success {
		if err := resetFailureCount(ctx, s.db, job.WebhookID); err != nil {
			s.logger.Error("Failed to reset failure count",
				zap.String("webhook_id", job.WebhookID.String()),
				zap.Error(err),
			)
		}
		s.logger.Info("Webhook delivered",
			zap.String("job_id", job.ID.String()),
			zap.String("webhook_id", job.WebhookID.String()),
			zap.String("event_type", job.EventType),
			zap.Int("attempt", attemptNo),
			zap.Int("http_status", result.HTTPStatus),
		)
		return nil
	}

	if attemptNo < s.cfg.MaxAttempts {
		delay := RetryDelay(s.cfg.RetryDelays, job.Attempt)
		retry := *job
		retry.Attempt = attemptNo
		retry.NotBefore = s.now().Add(delay)

		if err := s.jobs.Enqueue(ctx, &retry, retry.NotBefore); err != nil {
			s.logger.Error("Failed to schedule retry",
				zap.String("job_id", job.ID.String()),
				zap.String("webhook_id", job.WebhookID.String()),
				zap.Error(err),
			)
			return err
		}

		s.logger.Info("Webhook delivery failed, retry scheduled",
			zap.String("job_id", job.ID.String()),
			zap.String("webhook_id", job.WebhookID.String()),
			zap.Int("attempt", attemptNo),
			zap.Int("http_status", result.HTTPStatus),
			zap.Duration("delay", delay),
		)
		return nil
	}

	// Terminal failure: the whole job counts as one failure against the
	// subscription, regardless of how many attempts it burned.
	deactivated, err := recordTerminalFailure(ctx, s.db, job.WebhookID, s.cfg.KillThreshold)
	if err != nil {
		s.logger.Error("Failed to record terminal failure",
			zap.String("webhook_id", job.WebhookID.String()),
			zap.Error(err),
		)
		return nil
	}

	s.logger.Warn("Webhook delivery failed terminally",
		zap.String("job_id", job.ID.String()),
		zap.String("webhook_id", job.WebhookID.String()),
		zap.String("event_type", job.EventType),
		zap.Int("attempts", attemptNo),
		zap.Bool("deactivated", deactivated),
	)
	return nil
}

// SendTest makes one synchronous test delivery with no retry policy.
// Implements registry.TestSender.
func (s *Scheduler) SendTest(ctx context.Context, sub *models.WebhookSubscription) (*models.DeliveryAttempt, error) {
	deliveryID := uuid.New()
	data := map[string]interface{}{
		"webhook_id": sub.ID.String(),
		"message":    "Test event",
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.HTTPTimeout)
	defer cancel()
	result := s.deliverer.Deliver(attemptCtx, deliveryID, sub.URL, string(models.WebhookTest), data, sub.Secret)

	attempt, err := recordAttempt(ctx, s.db, sub.ID, sub.URL, string(models.WebhookTest), result)
	if err != nil {
		s.logger.Error("Failed to write test delivery log",
			zap.String("webhook_id", sub.ID.String()),
			zap.Error(err),
		)
		// Synthesize the row for the caller; the attempt outcome stands
		// even when the audit write fails.
		attempt = &models.DeliveryAttempt{
			WebhookID:  sub.ID,
			URL:        sub.URL,
			EventType:  string(models.WebhookTest),
			HTTPStatus: result.HTTPStatus,
			Success:    result.Success,
			Error:      result.ErrorText(),
			CreatedAt:  s.now(),
		}
	}
	return attempt, nil
}

// logAttempt writes the audit row for an attempt. A failed write is
// logged and swallowed; it must never change the attempt's outcome.
func (s *Scheduler) logAttempt(ctx context.Context, job *models.DeliveryJob, result *DeliveryResult) {
	if _, err := recordAttempt(ctx, s.db, job.WebhookID, job.URL, job.EventType, result); err != nil {
		s.logger.Error("Failed to write delivery log",
			zap.String("job_id", job.ID.String()),
			zap.String("webhook_id", job.WebhookID.String()),
			zap.Error(err),
		)
	}
}
