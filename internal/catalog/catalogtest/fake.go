// Package catalogtest provides an in-memory catalog.Reader for tests.
package catalogtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/product-discovery/backend/internal/storage/models"
	"github.com/product-discovery/backend/pkg/apperr"
)

// Catalog is a concurrency-safe fake. Ratings are stored as raw review scores.
type Catalog struct {
	mu         sync.RWMutex
	products   map[int64]models.Product
	categories map[int64]models.Category
	reviews    map[int64][]int

	// Err, when set, is returned by GetActiveProducts.
	Err error
	// ActiveCalls counts GetActiveProducts calls.
	ActiveCalls int
}

func New() *Catalog {
	return &Catalog{
		products:   make(map[int64]models.Product),
		categories: make(map[int64]models.Category),
		reviews:    make(map[int64][]int),
	}
}

// Base is a fixed reference time for deterministic CreatedAt values.
var Base = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func (c *Catalog) AddCategory(id int64, name string) *Catalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.categories[id] = models.Category{ID: id, Name: name, IsActive: true, CreatedAt: Base}
	return c
}

func (c *Catalog) AddProduct(p models.Product) *Catalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = Base.Add(time.Duration(p.ID) * time.Hour)
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	c.products[p.ID] = p
	return c
}

func (c *Catalog) UpdateProduct(id int64, mutate func(*models.Product)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p := c.products[id]
	mutate(&p)
	c.products[id] = p
}

func (c *Catalog) AddReview(productID int64, rating int) *Catalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reviews[productID] = append(c.reviews[productID], rating)
	return c
}

func (c *Catalog) GetActiveProducts(ctx context.Context) ([]models.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ActiveCalls++
	if c.Err != nil {
		return nil, c.Err
	}

	out := make([]models.Product, 0, len(c.products))
	for _, p := range c.products {
		if p.IsActive {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *Catalog) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[id]
	if !ok {
		return nil, apperr.NotFound("product", id)
	}
	return &p, nil
}

func (c *Catalog) GetCategoryByID(ctx context.Context, id int64) (*models.Category, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cat, ok := c.categories[id]
	if !ok {
		return nil, apperr.NotFound("category", id)
	}
	return &cat, nil
}

func (c *Catalog) GetAggregateRating(ctx context.Context, productID int64) (float64, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ratings := c.reviews[productID]
	if len(ratings) == 0 {
		return 0, false, nil
	}
	sum := 0
	for _, r := range ratings {
		sum += r
	}
	return float64(sum) / float64(len(ratings)), true, nil
}
