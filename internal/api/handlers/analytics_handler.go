package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/product-discovery/backend/internal/events"
)

type AnalyticsHandler struct {
	analytics *events.Analytics
}

func NewAnalyticsHandler(analytics *events.Analytics) *AnalyticsHandler {
	return &AnalyticsHandler{
		analytics: analytics,
	}
}

func (h *AnalyticsHandler) Recommendations(c *fiber.Ctx) error {
	report, err := h.analytics.Recommendations(c.UserContext(), c.QueryInt("days", 7))
	if err != nil {
		return respondError(c, err, "Failed to build recommendation report")
	}

	return c.JSON(report)
}

func (h *AnalyticsHandler) TopQueries(c *fiber.Ctx) error {
	queries, err := h.analytics.TopQueries(c.UserContext(), c.QueryInt("days", 7), c.QueryInt("limit", 20))
	if err != nil {
		return respondError(c, err, "Failed to load top queries")
	}

	return c.JSON(fiber.Map{
		"queries": queries,
	})
}
