// Package catalog is the discovery subsystem's view of the product catalog.
// Catalog persistence and administration live elsewhere; this package only
// reads, caches, and reacts to change notifications.
package catalog

import (
	"context"

	"github.com/product-discovery/backend/internal/storage/models"
)

// Reader is the narrow read interface the catalog owners guarantee. Lookups of
// unknown ids return an error matching apperr.ErrNotFound.
type Reader interface {
	GetActiveProducts(ctx context.Context) ([]models.Product, error)
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetCategoryByID(ctx context.Context, id int64) (*models.Category, error)
	// GetAggregateRating returns the mean review rating; ok is false when
	// the product has no reviews.
	GetAggregateRating(ctx context.Context, productID int64) (rating float64, ok bool, err error)
}

// BatchRatingReader is implemented by readers that can aggregate ratings for
// many products in one round trip.
type BatchRatingReader interface {
	GetAggregateRatings(ctx context.Context, productIDs []int64) (map[int64]float64, error)
}

// AggregateRatings returns ratings for the products that have reviews.
// Products without reviews are absent from the map.
func AggregateRatings(ctx context.Context, r Reader, productIDs []int64) (map[int64]float64, error) {
	if batch, ok := r.(BatchRatingReader); ok {
		return batch.GetAggregateRatings(ctx, productIDs)
	}

	out := make(map[int64]float64, len(productIDs))
	for _, id := range productIDs {
		rating, ok, err := r.GetAggregateRating(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out[id] = rating
		}
	}
	return out, nil
}

// ProductIDs collects ids in slice order.
func ProductIDs(products []models.Product) []int64 {
	ids := make([]int64, len(products))
	for i := range products {
		ids[i] = products[i].ID
	}
	return ids
}
