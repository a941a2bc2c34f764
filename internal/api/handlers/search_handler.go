package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/product-discovery/backend/internal/search"
)

type SearchHandler struct {
	engine *search.Engine
}

func NewSearchHandler(engine *search.Engine) *SearchHandler {
	return &SearchHandler{
		engine: engine,
	}
}

func (h *SearchHandler) HandleSearch(c *fiber.Ctx) error {
	var req search.Request
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return invalidBody(c, err)
		}
	}

	page, err := h.engine.Search(c.UserContext(), req, callerFrom(c))
	if err != nil {
		return respondError(c, err, "Failed to search products")
	}

	return c.JSON(page)
}
