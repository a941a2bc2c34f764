package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/product-discovery/backend/internal/recommend"
)

type RecommendHandler struct {
	service *recommend.Service
}

func NewRecommendHandler(service *recommend.Service) *RecommendHandler {
	return &RecommendHandler{
		service: service,
	}
}

// HandleRecommend responds with the bare product list. The strategy that
// produced it travels in the X-Recommendation-Source header so clients can
// echo it back on click events.
func (h *RecommendHandler) HandleRecommend(c *fiber.Ctx) error {
	var req recommend.Request
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}

	result, err := h.service.Recommend(c.UserContext(), req, callerFrom(c))
	if err != nil {
		return respondError(c, err, "Failed to compute recommendations")
	}

	c.Set(HeaderRecommendationSource, string(result.Source))
	return c.JSON(result.Products)
}

// HandleEvent records a click and acknowledges with an empty body.
func (h *RecommendHandler) HandleEvent(c *fiber.Ctx) error {
	var req recommend.ClickRequest
	if err := c.BodyParser(&req); err != nil {
		return invalidBody(c, err)
	}

	if err := h.service.RecordClick(c.UserContext(), req, callerFrom(c)); err != nil {
		return respondError(c, err, "Failed to record recommendation event")
	}

	return c.SendStatus(fiber.StatusCreated)
}
