package catalog

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/product-discovery/backend/internal/cache"
	"github.com/product-discovery/backend/internal/storage/models"
	"github.com/product-discovery/backend/pkg/apperr"
	"github.com/product-discovery/backend/pkg/logger"
)

// ViewRecorder receives product detail views. Recording never fails the read.
type ViewRecorder interface {
	RecordView(ctx context.Context, view models.ProductView)
}

type ChangeType string

const (
	ProductUpdated  ChangeType = "product_updated"
	ProductDeleted  ChangeType = "product_deleted"
	ReviewCreated   ChangeType = "review_created"
	ImageUploaded   ChangeType = "image_uploaded"
	CategoryUpdated ChangeType = "category_updated"
)

// ChangeEvent is sent by the catalog owners whenever underlying data changes.
type ChangeEvent struct {
	Type ChangeType `json:"type" validate:"required,oneof=product_updated product_deleted review_created image_uploaded category_updated"`
	ID   int64      `json:"id" validate:"required,gt=0"`
}

// Service serves cached catalog reads and turns change notifications into
// cache invalidations.
type Service struct {
	reader Reader
	cache  *cache.Facade
	views  ViewRecorder
	now    func() time.Time
}

func NewService(reader Reader, facade *cache.Facade, views ViewRecorder) *Service {
	return &Service{
		reader: reader,
		cache:  facade,
		views:  views,
		now:    time.Now,
	}
}

func (s *Service) ProductDetail(ctx context.Context, id int64, caller models.Caller) (*models.Product, error) {
	if id <= 0 {
		return nil, apperr.Invalid("id", "must be a positive integer")
	}

	idStr := strconv.FormatInt(id, 10)

	var product models.Product
	if !s.cache.Get(ctx, cache.NSProduct, idStr, nil, &product) {
		p, err := s.reader.GetProductByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !p.IsActive {
			return nil, apperr.NotFound("product", id)
		}
		product = *p
		s.cache.Set(ctx, cache.NSProduct, idStr, nil, product, 0, cache.ProductTag(idStr))
	}

	if s.views != nil {
		s.views.RecordView(ctx, models.ProductView{
			ID:        uuid.New().String(),
			ProductID: id,
			UserID:    caller.UserID,
			SessionID: caller.SessionID,
			ViewedAt:  s.now(),
		})
	}

	return &product, nil
}

// ListProducts pages through active products, newest first.
func (s *Service) ListProducts(ctx context.Context, page, limit int) (*models.ProductPage, error) {
	if err := validatePage(page, limit); err != nil {
		return nil, err
	}

	params := cache.Params{"page": page, "limit": limit}

	var result models.ProductPage
	if s.cache.Get(ctx, cache.NSProductList, "all", params, &result) {
		return &result, nil
	}

	products, err := s.reader.GetActiveProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active products: %w", err)
	}
	SortNewest(products)

	result = models.Paginate(products, page, limit)
	s.cache.Set(ctx, cache.NSProductList, "all", params, result, 0)
	return &result, nil
}

// CategoryProducts pages through a category's active products, newest first.
func (s *Service) CategoryProducts(ctx context.Context, categoryID int64, page, limit int) (*models.ProductPage, error) {
	if categoryID <= 0 {
		return nil, apperr.Invalid("category_id", "must be a positive integer")
	}
	if err := validatePage(page, limit); err != nil {
		return nil, err
	}

	idStr := strconv.FormatInt(categoryID, 10)
	params := cache.Params{"page": page, "limit": limit}

	var result models.ProductPage
	if s.cache.Get(ctx, cache.NSCategoryProducts, idStr, params, &result) {
		return &result, nil
	}

	if _, err := s.reader.GetCategoryByID(ctx, categoryID); err != nil {
		return nil, err
	}

	products, err := s.reader.GetActiveProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active products: %w", err)
	}

	inCategory := products[:0:0]
	for _, p := range products {
		if p.CategoryID == categoryID {
			inCategory = append(inCategory, p)
		}
	}
	SortNewest(inCategory)

	result = models.Paginate(inCategory, page, limit)
	s.cache.Set(ctx, cache.NSCategoryProducts, idStr, params, result, 0, cache.CategoryProductsTag(idStr))
	return &result, nil
}

// HandleChange invalidates every cached view the change could have made stale.
func (s *Service) HandleChange(ctx context.Context, event ChangeEvent) error {
	idStr := strconv.FormatInt(event.ID, 10)

	switch event.Type {
	case ProductUpdated, ProductDeleted, ReviewCreated, ImageUploaded:
		s.cache.InvalidateExact(ctx, cache.NSProduct, idStr)
		s.cache.InvalidateTag(ctx, cache.ProductTag(idStr))
		// Any list may gain, lose, or reorder the product.
		s.cache.InvalidateNamespace(ctx, string(cache.NSProductList))
		s.cache.InvalidateNamespace(ctx, string(cache.NSCategoryProducts))
		s.cache.InvalidateNamespace(ctx, string(cache.NSSearchResults))
		s.cache.InvalidateNamespace(ctx, "recommendations_*")
	case CategoryUpdated:
		s.cache.InvalidateTag(ctx, cache.CategoryProductsTag(idStr))
		s.cache.InvalidateExact(ctx, cache.NSCategoryProducts, idStr)
		s.cache.InvalidateExact(ctx, cache.NSRecommendationsCategory, idStr)
	default:
		return apperr.Invalid("type", fmt.Sprintf("unknown change type %q", event.Type))
	}

	logger.Info("Catalog change applied to cache",
		zap.String("type", string(event.Type)),
		zap.Int64("id", event.ID),
	)
	return nil
}

// SortNewest orders by creation time descending, then id ascending.
func SortNewest(products []models.Product) {
	sort.SliceStable(products, func(i, j int) bool {
		a, b := products[i], products[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func validatePage(page, limit int) error {
	v := apperr.NewValidationError()
	if page < 1 {
		v.Add("page", "must be at least 1")
	}
	if limit < 1 || limit > 100 {
		v.Add("limit", "must be between 1 and 100")
	}
	return v.OrNil()
}
