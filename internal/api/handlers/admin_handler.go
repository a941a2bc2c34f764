package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	graph "github.com/product-discovery/backend/internal/graph/neo4j"
	"github.com/product-discovery/backend/internal/similarity"
	"github.com/product-discovery/backend/pkg/apperr"
	"github.com/product-discovery/backend/pkg/logger"
)

const maxNeighbors = 100

// GraphReader serves neighbors from the mirrored similarity graph.
type GraphReader interface {
	Neighbors(ctx context.Context, productID int64, limit int) ([]graph.Neighbor, error)
}

type AdminHandler struct {
	job   *similarity.Job
	edges similarity.EdgeStore
	graph GraphReader
}

// NewAdminHandler builds the operator endpoints. graph may be nil when the
// mirror is disabled.
func NewAdminHandler(job *similarity.Job, edges similarity.EdgeStore, graph GraphReader) *AdminHandler {
	return &AdminHandler{
		job:   job,
		edges: edges,
		graph: graph,
	}
}

func (h *AdminHandler) RunSimilarity(c *fiber.Ctx) error {
	report, err := h.job.RunOnce(c.UserContext())
	if errors.Is(err, similarity.ErrRunInProgress) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	if err != nil {
		return respondError(c, err, "Similarity run failed")
	}

	logger.Info("Similarity run triggered via admin API",
		zap.String("run_id", report.RunID),
		zap.Int64("generation", report.Generation),
	)
	return c.JSON(report)
}

func (h *AdminHandler) SimilarityNeighbors(c *fiber.Ctx) error {
	id, limit, err := neighborParams(c)
	if err != nil {
		return respondError(c, err, "Failed to load similarity neighbors")
	}

	edges, err := h.edges.Neighbors(c.UserContext(), id, limit)
	if err != nil {
		return respondError(c, err, "Failed to load similarity neighbors")
	}

	return c.JSON(fiber.Map{
		"product_id": id,
		"neighbors":  edges,
	})
}

func (h *AdminHandler) GraphNeighbors(c *fiber.Ctx) error {
	if h.graph == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Similarity graph mirror is disabled",
		})
	}

	id, limit, err := neighborParams(c)
	if err != nil {
		return respondError(c, err, "Failed to load graph neighbors")
	}

	neighbors, err := h.graph.Neighbors(c.UserContext(), id, limit)
	if err != nil {
		return respondError(c, err, "Failed to load graph neighbors")
	}

	return c.JSON(fiber.Map{
		"product_id": id,
		"neighbors":  neighbors,
	})
}

func neighborParams(c *fiber.Ctx) (int64, int, error) {
	id, err := idParam(c, "id")
	if err != nil {
		return 0, 0, err
	}
	limit := c.QueryInt("limit", 10)
	if limit < 1 || limit > maxNeighbors {
		return 0, 0, apperr.Invalid("limit", "must be between 1 and 100")
	}
	return id, limit, nil
}
