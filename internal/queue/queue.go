// Package queue provides the narrow job queue interface the delivery
// pipeline runs on. The in-memory implementation backs a single process;
// the AMQP implementation gives durable jobs across restarts. The
// scheduler logic is identical over both.
package queue

import (
	"context"
	"time"

	"github.com/aurawell/webhook-engine/internal/models"
)

// Handler processes one ready job. A non-nil error tells the queue the
// job was not handled (the AMQP queue nacks it without requeue; the
// retry state machine owns all retry decisions, not the broker).
type Handler func(ctx context.Context, job *models.DeliveryJob) error

// JobQueue hands delivery jobs to a handler once their notBefore time
// has passed.
type JobQueue interface {
	// Enqueue schedules a job. A zero or past notBefore means ready now.
	Enqueue(ctx context.Context, job *models.DeliveryJob, notBefore time.Time) error
	// Start begins dispatching ready jobs to the handler
	Start(handler Handler) error
	// Stop stops dispatching. Pending delayed jobs are dropped by the
	// memory queue and retained by the AMQP queue.
	Stop() error
}
