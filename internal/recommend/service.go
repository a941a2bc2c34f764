// Package recommend serves product recommendations through a fixed-priority
// fallback chain and records impression and click telemetry.
package recommend

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/product-discovery/backend/internal/cache"
	"github.com/product-discovery/backend/internal/catalog"
	"github.com/product-discovery/backend/internal/metrics"
	"github.com/product-discovery/backend/internal/similarity"
	"github.com/product-discovery/backend/internal/storage/models"
	"github.com/product-discovery/backend/pkg/apperr"
	"github.com/product-discovery/backend/pkg/validate"
)

// EventRecorder receives recommendation telemetry. It must not block and
// never reports failures back to the caller.
type EventRecorder interface {
	RecordImpressions(ctx context.Context, batch []models.RecommendationEvent)
	RecordClick(ctx context.Context, event models.RecommendationEvent)
}

type Request struct {
	ProductID  *int64 `json:"product_id" validate:"omitempty,gt=0"`
	CategoryID *int64 `json:"category_id" validate:"omitempty,gt=0"`
	Limit      int    `json:"limit" validate:"gte=0"`
}

// ClickRequest reports that a previously shown recommendation was acted upon.
type ClickRequest struct {
	ProductID int64  `json:"product_id" validate:"required,gt=0"`
	EventType string `json:"event_type" validate:"omitempty,oneof=click"`
	Source    Source `json:"source" validate:"required"`
	Position  *int   `json:"position" validate:"required,gte=0"`
}

// Result is the cached form of a recommendation list.
type Result struct {
	Source   Source           `json:"source"`
	Products []models.Product `json:"products"`
}

type Config struct {
	DefaultLimit int
	MaxLimit     int
}

func DefaultConfig() Config {
	return Config{DefaultLimit: 5, MaxLimit: 50}
}

type Service struct {
	reader catalog.Reader
	edges  similarity.EdgeStore
	cache  *cache.Facade
	events EventRecorder
	cfg    Config
	log    *zap.Logger
	now    func() time.Time
}

func NewService(reader catalog.Reader, edges similarity.EdgeStore, facade *cache.Facade, events EventRecorder, cfg Config, log *zap.Logger) *Service {
	def := DefaultConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		reader: reader,
		edges:  edges,
		cache:  facade,
		events: events,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

func (s *Service) normalize(req Request) (Request, error) {
	if req.Limit == 0 {
		req.Limit = s.cfg.DefaultLimit
	}
	if err := validate.Struct(req); err != nil {
		return req, err
	}

	v := apperr.NewValidationError()
	switch {
	case req.ProductID == nil && req.CategoryID == nil:
		v.Add("product_id", "either product_id or category_id is required")
	case req.ProductID != nil && req.CategoryID != nil:
		v.Add("category_id", "cannot be combined with product_id")
	}
	if req.Limit > s.cfg.MaxLimit {
		v.Add("limit", "must be between 1 and "+strconv.Itoa(s.cfg.MaxLimit))
	}
	return req, v.OrNil()
}

// Recommend returns ranked candidates for a seed product or a category and
// records one impression per returned item.
func (s *Service) Recommend(ctx context.Context, req Request, caller models.Caller) (*Result, error) {
	req, err := s.normalize(req)
	if err != nil {
		return nil, err
	}

	ns, anchorID := cache.NSRecommendationsCategory, int64(0)
	if req.ProductID != nil {
		ns, anchorID = cache.NSRecommendationsProduct, *req.ProductID
	} else {
		anchorID = *req.CategoryID
	}
	idStr := strconv.FormatInt(anchorID, 10)
	params := cache.Params{"limit": req.Limit}

	var result Result
	if s.cache.Get(ctx, ns, idStr, params, &result) {
		metrics.RecommendationsServed.WithLabelValues(string(result.Source), "hit").Inc()
		s.recordImpressions(ctx, &result, caller)
		return &result, nil
	}

	a := &anchor{limit: req.Limit}
	var chain []strategy
	if req.ProductID != nil {
		seed, err := s.reader.GetProductByID(ctx, anchorID)
		if err != nil {
			return nil, err
		}
		if !seed.IsActive {
			return nil, apperr.NotFound("product", anchorID)
		}
		a.seed = seed
		chain = s.productChain()
	} else {
		if _, err := s.reader.GetCategoryByID(ctx, anchorID); err != nil {
			return nil, err
		}
		a.categoryID = anchorID
		chain = s.categoryChain()
	}

	a.active, err = s.reader.GetActiveProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active products: %w", err)
	}

	source, products, err := run(ctx, chain, a)
	if err != nil {
		return nil, err
	}
	result = Result{Source: source, Products: products}

	s.cache.Set(ctx, ns, idStr, params, result, 0)
	metrics.RecommendationsServed.WithLabelValues(string(source), "miss").Inc()

	s.recordImpressions(ctx, &result, caller)
	return &result, nil
}

func (s *Service) recordImpressions(ctx context.Context, result *Result, caller models.Caller) {
	if s.events == nil || len(result.Products) == 0 {
		return
	}

	now := s.now()
	batch := make([]models.RecommendationEvent, len(result.Products))
	for i, p := range result.Products {
		batch[i] = models.RecommendationEvent{
			ID:        uuid.New().String(),
			UserID:    caller.UserID,
			SessionID: caller.SessionID,
			ProductID: p.ID,
			EventType: models.EventImpression,
			Source:    string(result.Source),
			Position:  i,
			CreatedAt: now,
		}
	}
	s.events.RecordImpressions(ctx, batch)
}

// RecordClick validates and records a click on a recommended product.
func (s *Service) RecordClick(ctx context.Context, req ClickRequest, caller models.Caller) error {
	if err := validate.Struct(req); err != nil {
		return err
	}
	if !req.Source.Valid() {
		return apperr.Invalid("source", "unknown recommendation source")
	}
	if _, err := s.reader.GetProductByID(ctx, req.ProductID); err != nil {
		return err
	}

	if s.events != nil {
		s.events.RecordClick(ctx, models.RecommendationEvent{
			ID:        uuid.New().String(),
			UserID:    caller.UserID,
			SessionID: caller.SessionID,
			ProductID: req.ProductID,
			EventType: models.EventClick,
			Source:    string(req.Source),
			Position:  *req.Position,
			CreatedAt: s.now(),
		})
	}
	return nil
}

// PublishGeneration drops cached seed-product recommendations once a new
// similarity generation is active.
func (s *Service) PublishGeneration(ctx context.Context, generation int64, edges []models.SimilarityEdge) error {
	s.cache.InvalidateNamespace(ctx, string(cache.NSRecommendationsProduct))
	s.log.Debug("Recommendation cache cleared for new similarity generation", zap.Int64("generation", generation))
	return nil
}
