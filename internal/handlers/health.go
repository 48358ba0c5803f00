package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aurawell/webhook-engine/internal/database"
)

// HealthHandler reports service health
type HealthHandler struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

// NewHealthHandler creates a health handler with dependencies
func NewHealthHandler(db *gorm.DB, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{DB: db, Logger: logger}
}

// HealthCheck handles GET /health
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
	defer cancel()

	if err := database.HealthCheck(ctx, h.DB); err != nil {
		h.Logger.Error("Health check failed", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":   "unhealthy",
			"database": "down",
		})
	}

	return c.JSON(fiber.Map{
		"status":   "ok",
		"database": "up",
	})
}
