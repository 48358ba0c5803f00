package service

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aurawell/webhook-engine/internal/dispatcher"
	"github.com/aurawell/webhook-engine/internal/queue"
	"github.com/aurawell/webhook-engine/internal/registry"
	"github.com/aurawell/webhook-engine/internal/worker"
)

// Service holds all application dependencies
// This eliminates global state and enables proper dependency injection
type Service struct {
	DB         *gorm.DB
	Logger     *zap.Logger
	Jobs       queue.JobQueue
	Registry   *registry.Registry
	Dispatcher *dispatcher.Dispatcher
	Scheduler  *worker.Scheduler
}

// NewService wires the delivery pipeline together. The scheduler is both
// the queue's job handler and the registry's test sender.
func NewService(db *gorm.DB, logger *zap.Logger, jobs queue.JobQueue, reg *registry.Registry, disp *dispatcher.Dispatcher, sched *worker.Scheduler) *Service {
	reg.SetTestSender(sched)
	return &Service{
		DB:         db,
		Logger:     logger,
		Jobs:       jobs,
		Registry:   reg,
		Dispatcher: disp,
		Scheduler:  sched,
	}
}
