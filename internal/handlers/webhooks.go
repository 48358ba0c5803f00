package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aurawell/webhook-engine/internal/models"
	"github.com/aurawell/webhook-engine/internal/registry"
)

// WebhooksHandler exposes the subscription management surface.
// Authentication happens upstream; the owner arrives in X-User-ID.
type WebhooksHandler struct {
	Registry *registry.Registry
	Logger   *zap.Logger
}

// NewWebhooksHandler creates a webhooks handler with dependencies
func NewWebhooksHandler(reg *registry.Registry, logger *zap.Logger) *WebhooksHandler {
	return &WebhooksHandler{Registry: reg, Logger: logger}
}

type createWebhookRequest struct {
	URL         string   `json:"url"`
	Events      []string `json:"events"`
	Description string   `json:"description"`
	Secret      string   `json:"secret"`
}

type updateWebhookRequest struct {
	URL         *string  `json:"url"`
	Events      []string `json:"events"`
	Description *string  `json:"description"`
}

type toggleWebhookRequest struct {
	Active bool `json:"active"`
}

// webhookResponse shapes a subscription for API responses. Secret is set
// only on create and regenerate responses.
type webhookResponse struct {
	*models.WebhookSubscription
	Secret string `json:"secret,omitempty"`
}

// Create handles POST /api/v1/webhooks
func (h *WebhooksHandler) Create(c *fiber.Ctx) error {
	userID, err := ownerID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var req createWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	sub, err := h.Registry.Create(c.Context(), userID, registry.CreateInput{
		URL:         req.URL,
		Events:      req.Events,
		Description: req.Description,
		Secret:      req.Secret,
	})
	if err != nil {
		return h.respondError(c, err)
	}

	// The only time the plaintext secret is returned after creation
	return c.Status(fiber.StatusCreated).JSON(webhookResponse{
		WebhookSubscription: sub,
		Secret:              sub.Secret,
	})
}

// List handles GET /api/v1/webhooks
func (h *WebhooksHandler) List(c *fiber.Ctx) error {
	userID, err := ownerID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	subs, err := h.Registry.List(c.Context(), userID)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(fiber.Map{"webhooks": subs})
}

// Get handles GET /api/v1/webhooks/:id
func (h *WebhooksHandler) Get(c *fiber.Ctx) error {
	userID, webhookID, err := ownerAndWebhookID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	sub, err := h.Registry.Get(c.Context(), webhookID, userID)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(sub)
}

// Update handles PATCH /api/v1/webhooks/:id
func (h *WebhooksHandler) Update(c *fiber.Ctx) error {
	userID, webhookID, err := ownerAndWebhookID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var req updateWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	sub, err := h.Registry.Update(c.Context(), webhookID, userID, registry.UpdateInput{
		URL:         req.URL,
		Events:      req.Events,
		Description: req.Description,
	})
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(sub)
}

// Delete handles DELETE /api/v1/webhooks/:id
func (h *WebhooksHandler) Delete(c *fiber.Ctx) error {
	userID, webhookID, err := ownerAndWebhookID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.Registry.Delete(c.Context(), webhookID, userID); err != nil {
		return h.respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RegenerateSecret handles POST /api/v1/webhooks/:id/regenerate-secret
func (h *WebhooksHandler) RegenerateSecret(c *fiber.Ctx) error {
	userID, webhookID, err := ownerAndWebhookID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	sub, err := h.Registry.RegenerateSecret(c.Context(), webhookID, userID)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(webhookResponse{
		WebhookSubscription: sub,
		Secret:              sub.Secret,
	})
}

// Toggle handles POST /api/v1/webhooks/:id/toggle
func (h *WebhooksHandler) Toggle(c *fiber.Ctx) error {
	userID, webhookID, err := ownerAndWebhookID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	var req toggleWebhookRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	sub, err := h.Registry.SetActive(c.Context(), webhookID, userID, req.Active)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(sub)
}

// SendTest handles POST /api/v1/webhooks/:id/test
func (h *WebhooksHandler) SendTest(c *fiber.Ctx) error {
	userID, webhookID, err := ownerAndWebhookID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	attempt, err := h.Registry.SendTest(c.Context(), webhookID, userID)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(attempt)
}

// GetDeliveries handles GET /api/v1/webhooks/:id/deliveries
func (h *WebhooksHandler) GetDeliveries(c *fiber.Ctx) error {
	userID, webhookID, err := ownerAndWebhookID(c)
	if err != nil {
		return badRequest(c, err.Error())
	}

	limit := 25
	if limitStr := c.Query("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			return badRequest(c, "limit must be a positive integer")
		}
		limit = parsed
	}
	offset := 0
	if offsetStr := c.Query("offset"); offsetStr != "" {
		parsed, err := strconv.Atoi(offsetStr)
		if err != nil || parsed < 0 {
			return badRequest(c, "offset must be a non-negative integer")
		}
		offset = parsed
	}

	attempts, err := h.Registry.GetDeliveryLogs(c.Context(), webhookID, userID, limit, offset)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(fiber.Map{"deliveries": attempts})
}

// respondError maps registry errors to HTTP statuses
func (h *WebhooksHandler) respondError(c *fiber.Ctx, err error) error {
	var validationErr *registry.ValidationError
	var notFoundErr *registry.NotFoundError
	var limitErr *registry.LimitExceededError

	switch {
	case errors.As(err, &validationErr):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": validationErr.Error()})
	case errors.As(err, &notFoundErr):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": notFoundErr.Error()})
	case errors.As(err, &limitErr):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": limitErr.Error()})
	default:
		h.Logger.Error("Webhook management request failed",
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal server error"})
	}
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

func ownerID(c *fiber.Ctx) (uuid.UUID, error) {
	userID, err := uuid.Parse(c.Get("X-User-ID"))
	if err != nil {
		return uuid.Nil, errors.New("X-User-ID header is required and must be a UUID")
	}
	return userID, nil
}

func ownerAndWebhookID(c *fiber.Ctx) (uuid.UUID, uuid.UUID, error) {
	userID, err := ownerID(c)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	webhookID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, errors.New("webhook id must be a UUID")
	}
	return userID, webhookID, nil
}
