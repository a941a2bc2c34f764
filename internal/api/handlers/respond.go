package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/product-discovery/backend/internal/storage/models"
	"github.com/product-discovery/backend/pkg/apperr"
	"github.com/product-discovery/backend/pkg/logger"
)

const (
	HeaderUserID    = "X-User-ID"
	HeaderSessionID = "X-Session-ID"

	HeaderRecommendationSource = "X-Recommendation-Source"
)

// callerFrom reads the identity headers set by the upstream auth layer.
func callerFrom(c *fiber.Ctx) models.Caller {
	return models.Caller{
		UserID:    c.Get(HeaderUserID),
		SessionID: c.Get(HeaderSessionID),
	}
}

func respondError(c *fiber.Ctx, err error, msg string) error {
	var validation *apperr.ValidationError
	if errors.As(err, &validation) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":  "validation failed",
			"fields": validation.Fields,
		})
	}

	if apperr.IsNotFound(err) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":  "not found",
			"detail": err.Error(),
		})
	}

	logger.Error(msg,
		zap.String("path", c.Path()),
		zap.Error(err),
	)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": msg,
	})
}

func invalidBody(c *fiber.Ctx, err error) error {
	logger.Debug("Failed to parse request body", zap.Error(err))
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": "Invalid request body",
	})
}

// idParam parses a positive integer route parameter.
func idParam(c *fiber.Ctx, name string) (int64, error) {
	id, err := c.ParamsInt(name)
	if err != nil || id <= 0 {
		return 0, apperr.Invalid(name, "must be a positive integer")
	}
	return int64(id), nil
}
