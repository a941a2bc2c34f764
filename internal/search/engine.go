// Package search evaluates structured catalog queries: free text, filters,
// sort order and pagination, read through the cache facade.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/product-discovery/backend/internal/cache"
	"github.com/product-discovery/backend/internal/catalog"
	"github.com/product-discovery/backend/internal/metrics"
	"github.com/product-discovery/backend/internal/storage/models"
	"github.com/product-discovery/backend/pkg/utils"
)

// PopularityReader reports recorded views per product.
type PopularityReader interface {
	ViewCounts(ctx context.Context, productIDs []int64) (map[int64]int64, error)
}

// QueryLogger receives search query logs. It must not block.
type QueryLogger interface {
	LogSearch(ctx context.Context, entry models.SearchQueryLog)
}

type Config struct {
	DefaultLimit   int
	MaxLimit       int
	MaxQueryLength int
	// EvalTimeout bounds one shared evaluation of a cache miss. It is
	// detached from the caller that started it so coalesced waiters are not
	// failed by that caller's cancellation.
	EvalTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{DefaultLimit: 20, MaxLimit: 50, MaxQueryLength: 255, EvalTimeout: 10 * time.Second}
}

type Engine struct {
	reader     catalog.Reader
	cache      *cache.Facade
	ranker     Ranker
	popularity PopularityReader
	queries    QueryLogger
	cfg        Config
	log        *zap.Logger
	now        func() time.Time

	inflight singleflight.Group
}

type Option func(*Engine)

// WithRanker enables relevance ranking. Without it text queries use substring matching.
func WithRanker(r Ranker) Option {
	return func(e *Engine) { e.ranker = r }
}

func WithPopularity(p PopularityReader) Option {
	return func(e *Engine) { e.popularity = p }
}

func WithQueryLogger(q QueryLogger) Option {
	return func(e *Engine) { e.queries = q }
}

func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func NewEngine(reader catalog.Reader, facade *cache.Facade, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = def.MaxLimit
	}
	if cfg.EvalTimeout <= 0 {
		cfg.EvalTimeout = def.EvalTimeout
	}

	e := &Engine{
		reader: reader,
		cache:  facade,
		cfg:    cfg,
		log:    zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search validates req, serves it from cache when possible and otherwise
// evaluates it against the active catalog.
func (e *Engine) Search(ctx context.Context, req Request, caller models.Caller) (*models.ProductPage, error) {
	start := e.now()

	req, err := req.normalize(e.cfg)
	if err != nil {
		metrics.SearchTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	queryID := utils.HashString(strings.ToLower(req.Query))
	params := req.cacheParams()

	var page models.ProductPage
	cacheState := "hit"
	if !e.cache.Get(ctx, cache.NSSearchResults, queryID, params, &page) {
		cacheState = "miss"

		key := cache.Key(cache.NSSearchResults, queryID, params)
		ch := e.inflight.DoChan(key, func() (any, error) {
			shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.EvalTimeout)
			defer cancel()

			computed, err := e.evaluate(shared, req)
			if err != nil {
				return nil, err
			}
			e.cache.Set(shared, cache.NSSearchResults, queryID, params, computed, 0)
			return computed, nil
		})

		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			metrics.SearchTotal.WithLabelValues("error").Inc()
			return nil, ctx.Err()
		}
		if res.Err != nil {
			metrics.SearchTotal.WithLabelValues("error").Inc()
			return nil, res.Err
		}
		page = *res.Val.(*models.ProductPage)
	}

	e.logQuery(ctx, req, caller, page.Total)

	metrics.SearchTotal.WithLabelValues("ok").Inc()
	metrics.SearchDuration.WithLabelValues(cacheState).Observe(e.now().Sub(start).Seconds())
	return &page, nil
}

func (e *Engine) logQuery(ctx context.Context, req Request, caller models.Caller, total int) {
	if e.queries == nil || req.Query == "" || !caller.Identified() {
		return
	}
	e.queries.LogSearch(ctx, models.SearchQueryLog{
		ID:          uuid.New().String(),
		UserID:      caller.UserID,
		SessionID:   caller.SessionID,
		QueryText:   req.Query,
		ResultCount: total,
		CreatedAt:   e.now(),
	})
}

func (e *Engine) evaluate(ctx context.Context, req Request) (*models.ProductPage, error) {
	products, err := e.reader.GetActiveProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active products: %w", err)
	}

	var scores map[int64]float64
	ranked := false
	if req.Query != "" {
		scores, ranked = e.rank(ctx, req.Query, products)
		products = matchText(products, req.Query, scores)
	}

	products = filterAttributes(products, req)

	var ratings map[int64]float64
	if req.MinRating != nil || req.SortBy == SortRating {
		ratings, err = catalog.AggregateRatings(ctx, e.reader, catalog.ProductIDs(products))
		if err != nil {
			return nil, fmt.Errorf("failed to load ratings: %w", err)
		}
	}
	if req.MinRating != nil {
		products = filterRating(products, *req.MinRating, ratings)
	}

	var views map[int64]int64
	if req.SortBy == SortPopularity && e.popularity != nil {
		views, err = e.popularity.ViewCounts(ctx, catalog.ProductIDs(products))
		if err != nil {
			return nil, fmt.Errorf("failed to load view counts: %w", err)
		}
	}

	sortProducts(products, req.SortBy, sortInputs{
		relevance: scores,
		ranked:    ranked && req.Query != "",
		ratings:   ratings,
		views:     views,
	})

	page := models.Paginate(products, req.Page, req.Limit)
	return &page, nil
}

// rank asks the full-text ranker for scores. ok is false when ranking is
// unavailable and the caller must rely on substring matching.
func (e *Engine) rank(ctx context.Context, text string, products []models.Product) (map[int64]float64, bool) {
	if e.ranker == nil {
		return nil, false
	}
	scores, err := e.ranker.Rank(ctx, text, products)
	if err != nil {
		metrics.FullTextDegraded.Inc()
		e.log.Warn("Full-text ranking unavailable, falling back to substring match", zap.Error(err))
		return nil, false
	}
	return scores, true
}

// matchText keeps products whose name or description contains text, plus any
// the ranker matched.
func matchText(products []models.Product, text string, scores map[int64]float64) []models.Product {
	needle := strings.ToLower(text)
	out := products[:0:0]
	for _, p := range products {
		if _, hit := scores[p.ID]; hit ||
			strings.Contains(strings.ToLower(p.Name), needle) ||
			strings.Contains(strings.ToLower(p.Description), needle) {
			out = append(out, p)
		}
	}
	return out
}

func filterAttributes(products []models.Product, req Request) []models.Product {
	out := products[:0:0]
	for _, p := range products {
		if req.CategoryID != nil && p.CategoryID != *req.CategoryID {
			continue
		}
		if req.MinPrice != nil && p.Price < *req.MinPrice {
			continue
		}
		if req.MaxPrice != nil && p.Price > *req.MaxPrice {
			continue
		}
		if req.InStock && !p.InStock() {
			continue
		}
		out = append(out, p)
	}
	return out
}

// filterRating drops products below min, including those with no reviews.
func filterRating(products []models.Product, min float64, ratings map[int64]float64) []models.Product {
	out := products[:0:0]
	for _, p := range products {
		if r, ok := ratings[p.ID]; ok && r >= min {
			out = append(out, p)
		}
	}
	return out
}
