package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/aurawell/webhook-engine/internal/handlers"
)

// SetupRoutes configures all application routes with dependencies
func SetupRoutes(app *fiber.App, health *handlers.HealthHandler, webhooks *handlers.WebhooksHandler, events *handlers.EventsHandler) {
	app.Get("/health", health.HealthCheck)

	api := app.Group("/api/v1")
	{
		wh := api.Group("/webhooks")
		wh.Post("/", webhooks.Create)
		wh.Get("/", webhooks.List)
		wh.Get("/:id", webhooks.Get)
		wh.Patch("/:id", webhooks.Update)
		wh.Delete("/:id", webhooks.Delete)
		wh.Post("/:id/regenerate-secret", webhooks.RegenerateSecret)
		wh.Post("/:id/toggle", webhooks.Toggle)
		wh.Post("/:id/test", webhooks.SendTest)
		wh.Get("/:id/deliveries", webhooks.GetDeliveries)
	}

	// Consumed by the application's own services, not end users
	internal := app.Group("/internal/v1")
	{
		internal.Post("/events", events.Trigger)
	}
}
