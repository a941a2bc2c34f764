package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/product-discovery/backend/internal/catalog"
	"github.com/product-discovery/backend/pkg/validate"
)

const defaultPageLimit = 20

type CatalogHandler struct {
	service *catalog.Service
}

func NewCatalogHandler(service *catalog.Service) *CatalogHandler {
	return &CatalogHandler{
		service: service,
	}
}

func (h *CatalogHandler) GetProduct(c *fiber.Ctx) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err, "Failed to load product")
	}

	product, err := h.service.ProductDetail(c.UserContext(), id, callerFrom(c))
	if err != nil {
		return respondError(c, err, "Failed to load product")
	}

	return c.JSON(product)
}

func (h *CatalogHandler) ListProducts(c *fiber.Ctx) error {
	page, err := h.service.ListProducts(c.UserContext(), c.QueryInt("page", 1), c.QueryInt("limit", defaultPageLimit))
	if err != nil {
		return respondError(c, err, "Failed to list products")
	}

	return c.JSON(page)
}

func (h *CatalogHandler) CategoryProducts(c *fiber.Ctx) error {
	id, err := idParam(c, "id")
	if err != nil {
		return respondError(c, err, "Failed to list category products")
	}

	page, err := h.service.CategoryProducts(c.UserContext(), id, c.QueryInt("page", 1), c.QueryInt("limit", defaultPageLimit))
	if err != nil {
		return respondError(c, err, "Failed to list category products")
	}

	return c.JSON(page)
}

// HandleChange receives change notifications from the catalog owners.
func (h *CatalogHandler) HandleChange(c *fiber.Ctx) error {
	var event catalog.ChangeEvent
	if err := c.BodyParser(&event); err != nil {
		return invalidBody(c, err)
	}
	if err := validate.Struct(event); err != nil {
		return respondError(c, err, "Failed to apply catalog change")
	}

	if err := h.service.HandleChange(c.UserContext(), event); err != nil {
		return respondError(c, err, "Failed to apply catalog change")
	}

	return c.SendStatus(fiber.StatusAccepted)
}
