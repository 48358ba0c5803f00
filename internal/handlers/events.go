package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aurawell/webhook-engine/internal/dispatcher"
)

// EventsHandler exposes the internal trigger endpoint used by the rest
// of the application's services.
type EventsHandler struct {
	Dispatcher *dispatcher.Dispatcher
	Logger     *zap.Logger
}

// NewEventsHandler creates an events handler with dependencies
func NewEventsHandler(d *dispatcher.Dispatcher, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{Dispatcher: d, Logger: logger}
}

type triggerRequest struct {
	EventType string                 `json:"event_type"`
	UserID    string                 `json:"user_id"`
	Payload   map[string]interface{} `json:"payload"`
}

// Trigger handles POST /internal/v1/events
// Fire-and-notify: the response reports what was enqueued, never a
// delivery outcome.
func (h *EventsHandler) Trigger(c *fiber.Ctx) error {
	var req triggerRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return badRequest(c, "user_id must be a UUID")
	}

	result, err := h.Dispatcher.TriggerEvent(c.Context(), req.EventType, userID, req.Payload)
	if err != nil {
		h.Logger.Warn("Event trigger rejected",
			zap.String("event_type", req.EventType),
			zap.Error(err),
		)
		return badRequest(c, err.Error())
	}

	return c.Status(fiber.StatusAccepted).JSON(result)
}
