package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aurawell/webhook-engine/internal/models"
)

// MemoryQueue is a timer-wheel job queue for single-process deployments.
// Each delayed job holds one time.AfterFunc; firing hands the job to the
// handler on the timer goroutine's successor.
type MemoryQueue struct {
	logger  *zap.Logger
	mu      sync.Mutex
	handler Handler
	timers  map[string]*time.Timer
	stopped bool
	wg      sync.WaitGroup
}

// NewMemoryQueue creates an in-memory job queue
func NewMemoryQueue(logger *zap.Logger) *MemoryQueue {
	return &MemoryQueue{
		logger: logger,
		timers: make(map[string]*time.Timer),
	}
}

// Start registers the handler. Jobs enqueued before Start are rejected.
func (q *MemoryQueue) Start(handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if handler == nil {
		return fmt.Errorf("handler is required")
	}
	q.handler = handler
	q.stopped = false
	return nil
}

// Enqueue schedules a job to fire once notBefore has passed
func (q *MemoryQueue) Enqueue(_ context.Context, job *models.DeliveryJob, notBefore time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped || q.handler == nil {
		return fmt.Errorf("queue is not running")
	}

	delay := time.Until(notBefore)
	if delay < 0 {
		delay = 0
	}

	key := job.ID.String() + ":" + fmt.Sprint(job.Attempt)
	q.wg.Add(1)
	q.timers[key] = time.AfterFunc(delay, func() {
		defer q.wg.Done()

		q.mu.Lock()
		delete(q.timers, key)
		handler := q.handler
		stopped := q.stopped
		q.mu.Unlock()

		if stopped {
			return
		}

		if err := handler(context.Background(), job); err != nil {
			q.logger.Error("Job handler failed",
				zap.String("job_id", job.ID.String()),
				zap.String("webhook_id", job.WebhookID.String()),
				zap.Error(err),
			)
		}
	})

	return nil
}

// Stop cancels all outstanding timers and waits for in-flight handlers
func (q *MemoryQueue) Stop() error {
	q.mu.Lock()
	q.stopped = true
	for key, timer := range q.timers {
		if timer.Stop() {
			q.wg.Done()
		}
		delete(q.timers, key)
	}
	q.mu.Unlock()

	q.wg.Wait()
	return nil
}
