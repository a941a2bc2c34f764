package recommend

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/product-discovery/backend/internal/catalog"
	"github.com/product-discovery/backend/internal/storage/models"
)

// Source names the strategy that produced a recommendation list. It is
// stored on every impression and click.
type Source string

const (
	SourceSimilarProducts  Source = "similar_products"
	SourceSameCategory     Source = "same_category"
	SourcePopularProducts  Source = "popular_products"
	SourceCategoryTopRated Source = "category_top_rated"
)

func (s Source) Valid() bool {
	switch s {
	case SourceSimilarProducts, SourceSameCategory, SourcePopularProducts, SourceCategoryTopRated:
		return true
	}
	return false
}

// errNoCandidates tells the chain to try the next strategy.
var errNoCandidates = errors.New("no candidates")

// anchor is what a chain recommends against. Active products are loaded once
// per request and shared by every strategy in the chain.
type anchor struct {
	seed       *models.Product
	categoryID int64
	limit      int

	active []models.Product
}

type strategy struct {
	source     Source
	candidates func(ctx context.Context, a *anchor) ([]models.Product, error)
}

// chains, evaluated in priority order.
func (s *Service) productChain() []strategy {
	return []strategy{
		{source: SourceSimilarProducts, candidates: s.similarProducts},
		{source: SourceSameCategory, candidates: s.sameCategory},
		{source: SourcePopularProducts, candidates: s.popularProducts},
	}
}

func (s *Service) categoryChain() []strategy {
	return []strategy{
		{source: SourceCategoryTopRated, candidates: s.categoryTopRated},
	}
}

// run returns the first strategy's list that has candidates. When none do the
// result is empty and tagged with the last strategy tried.
func run(ctx context.Context, chain []strategy, a *anchor) (Source, []models.Product, error) {
	var last Source
	for _, st := range chain {
		last = st.source
		products, err := st.candidates(ctx, a)
		if errors.Is(err, errNoCandidates) {
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("%s: %w", st.source, err)
		}
		return st.source, products, nil
	}
	return last, []models.Product{}, nil
}

func (s *Service) similarProducts(ctx context.Context, a *anchor) ([]models.Product, error) {
	edges, err := s.edges.Neighbors(ctx, a.seed.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read similarity edges: %w", err)
	}
	if len(edges) == 0 {
		return nil, errNoCandidates
	}

	byID := make(map[int64]models.Product, len(a.active))
	for _, p := range a.active {
		byID[p.ID] = p
	}

	ordered := make([]models.SimilarityEdge, len(edges))
	copy(ordered, edges)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		return ordered[i].ProductB < ordered[j].ProductB
	})

	var out []models.Product
	for _, e := range ordered {
		if e.ProductB == a.seed.ID {
			continue
		}
		p, ok := byID[e.ProductB]
		if !ok {
			continue
		}
		out = append(out, p)
		if len(out) == a.limit {
			break
		}
	}
	if len(out) == 0 {
		return nil, errNoCandidates
	}
	return out, nil
}

func (s *Service) sameCategory(ctx context.Context, a *anchor) ([]models.Product, error) {
	var out []models.Product
	for _, p := range a.active {
		if p.CategoryID == a.seed.CategoryID && p.ID != a.seed.ID {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, errNoCandidates
	}
	catalog.SortNewest(out)
	return truncate(out, a.limit), nil
}

func (s *Service) popularProducts(ctx context.Context, a *anchor) ([]models.Product, error) {
	var out []models.Product
	for _, p := range a.active {
		if p.ID != a.seed.ID {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, errNoCandidates
	}
	if err := s.sortByRating(ctx, out); err != nil {
		return nil, err
	}
	return truncate(out, a.limit), nil
}

func (s *Service) categoryTopRated(ctx context.Context, a *anchor) ([]models.Product, error) {
	var out []models.Product
	for _, p := range a.active {
		if p.CategoryID == a.categoryID {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil, errNoCandidates
	}
	if err := s.sortByRating(ctx, out); err != nil {
		return nil, err
	}
	return truncate(out, a.limit), nil
}

// sortByRating orders by average rating descending; unrated products go last,
// ties by id ascending.
func (s *Service) sortByRating(ctx context.Context, products []models.Product) error {
	ratings, err := catalog.AggregateRatings(ctx, s.reader, catalog.ProductIDs(products))
	if err != nil {
		return fmt.Errorf("failed to load ratings: %w", err)
	}

	sort.SliceStable(products, func(i, j int) bool {
		ri, okI := ratings[products[i].ID]
		rj, okJ := ratings[products[j].ID]
		if okI != okJ {
			return okI
		}
		if ri != rj {
			return ri > rj
		}
		return products[i].ID < products[j].ID
	})
	return nil
}

func truncate(products []models.Product, limit int) []models.Product {
	if limit > 0 && len(products) > limit {
		return products[:limit]
	}
	return products
}
