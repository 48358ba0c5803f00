package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/aurawell/webhook-engine/internal/config"
	"github.com/aurawell/webhook-engine/internal/database"
	"github.com/aurawell/webhook-engine/internal/dispatcher"
	"github.com/aurawell/webhook-engine/internal/handlers"
	"github.com/aurawell/webhook-engine/internal/logger"
	"github.com/aurawell/webhook-engine/internal/queue"
	"github.com/aurawell/webhook-engine/internal/rabbitmq"
	"github.com/aurawell/webhook-engine/internal/registry"
	"github.com/aurawell/webhook-engine/internal/routes"
	"github.com/aurawell/webhook-engine/internal/service"
	"github.com/aurawell/webhook-engine/internal/worker"
)

func main() {
	if err := logger.Init(os.Getenv("LOG_LEVEL")); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	db, err := database.Connect(&cfg.Database, logger.Logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := database.Close(db, logger.Logger); err != nil {
			logger.Error("Error closing database", zap.Error(err))
		}
	}()

	if err := database.RunMigrations(&cfg.Database, logger.Logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Job queue: in-process timers by default, RabbitMQ when configured
	var jobs queue.JobQueue
	switch cfg.Queue.Driver {
	case "amqp":
		rmq := rabbitmq.NewConnection(&cfg.RabbitMQ, logger.Logger)
		if err := rmq.Connect(); err != nil {
			logger.Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer rmq.Close()
		jobs = queue.NewAMQPQueue(&cfg.Queue, rmq, logger.Logger)
	default:
		jobs = queue.NewMemoryQueue(logger.Logger)
	}

	deliverer := worker.NewDeliverer(cfg.Webhook.HTTPTimeout, logger.Logger)
	sched := worker.NewScheduler(db, &cfg.Webhook, jobs, deliverer, logger.Logger)
	reg := registry.NewRegistry(db, &cfg.App, &cfg.Webhook, logger.Logger)
	disp := dispatcher.NewDispatcher(db, jobs, logger.Logger)
	svc := service.NewService(db, logger.Logger, jobs, reg, disp, sched)

	if err := svc.Scheduler.Start(); err != nil {
		logger.Fatal("Failed to start delivery scheduler", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:      "Webhook Engine",
		ServerHeader: "Fiber",
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PATCH,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization,X-User-ID",
	}))

	routes.SetupRoutes(app,
		handlers.NewHealthHandler(db, logger.Logger),
		handlers.NewWebhooksHandler(reg, logger.Logger),
		handlers.NewEventsHandler(disp, logger.Logger),
	)

	go func() {
		addr := cfg.Server.Host + ":" + cfg.Server.Port
		logger.Info("Server starting",
			zap.String("address", addr),
			zap.String("environment", cfg.App.Environment),
			zap.String("queue_driver", cfg.Queue.Driver),
		)
		if err := app.Listen(addr); err != nil {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")
	if err := app.Shutdown(); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	if err := svc.Scheduler.Stop(); err != nil {
		logger.Error("Error stopping delivery scheduler", zap.Error(err))
	}

	logger.Info("Server stopped")
}
