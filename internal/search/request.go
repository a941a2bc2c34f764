package search

import (
	"strconv"
	"strings"

	"github.com/product-discovery/backend/internal/cache"
	"github.com/product-discovery/backend/pkg/apperr"
	"github.com/product-discovery/backend/pkg/validate"
)

type SortKey string

const (
	SortRelevance  SortKey = "relevance"
	SortPriceAsc   SortKey = "price_asc"
	SortPriceDesc  SortKey = "price_desc"
	SortNameAsc    SortKey = "name_asc"
	SortNameDesc   SortKey = "name_desc"
	SortRating     SortKey = "rating"
	SortNewest     SortKey = "newest"
	SortPopularity SortKey = "popularity"
)

// Request is a structured catalog query. Nil filters are not applied.
type Request struct {
	Query      string   `json:"query" validate:"max=255"`
	CategoryID *int64   `json:"category_id" validate:"omitempty,gt=0"`
	MinPrice   *float64 `json:"min_price" validate:"omitempty,gte=0"`
	MaxPrice   *float64 `json:"max_price" validate:"omitempty,gte=0"`
	InStock    bool     `json:"in_stock"`
	MinRating  *float64 `json:"min_rating" validate:"omitempty,gte=1,lte=5"`
	SortBy     SortKey  `json:"sort_by" validate:"omitempty,oneof=relevance price_asc price_desc name_asc name_desc rating newest popularity"`
	Page       int      `json:"page" validate:"gte=0"`
	Limit      int      `json:"limit" validate:"gte=0"`
}

// normalize fills defaults and rejects out-of-range values. It never touches
// the catalog or the cache.
func (r Request) normalize(cfg Config) (Request, error) {
	r.Query = strings.TrimSpace(r.Query)
	if r.SortBy == "" {
		r.SortBy = SortRelevance
	}
	if r.Page == 0 {
		r.Page = 1
	}
	if r.Limit == 0 {
		r.Limit = cfg.DefaultLimit
	}

	if err := validate.Struct(r); err != nil {
		return r, err
	}

	v := apperr.NewValidationError()
	if r.Limit > cfg.MaxLimit {
		v.Add("limit", "must be between 1 and "+strconv.Itoa(cfg.MaxLimit))
	}
	if cfg.MaxQueryLength > 0 && len(r.Query) > cfg.MaxQueryLength {
		v.Add("query", "must be at most "+strconv.Itoa(cfg.MaxQueryLength)+" characters")
	}
	if r.MinPrice != nil && r.MaxPrice != nil && *r.MinPrice > *r.MaxPrice {
		v.Add("min_price", "must not exceed max_price")
	}
	return r, v.OrNil()
}

// cacheParams covers every field that changes the response.
func (r Request) cacheParams() cache.Params {
	return cache.Params{
		"category_id": r.CategoryID,
		"min_price":   r.MinPrice,
		"max_price":   r.MaxPrice,
		"in_stock":    r.InStock,
		"min_rating":  r.MinRating,
		"sort_by":     r.SortBy,
		"page":        r.Page,
		"limit":       r.Limit,
	}
}
