package search

import (
	"sort"
	"strings"

	"github.com/product-discovery/backend/internal/storage/models"
)

type sortInputs struct {
	relevance map[int64]float64
	ranked    bool
	ratings   map[int64]float64
	views     map[int64]int64
}

// sortProducts orders products in place. Every key falls back to id ascending
// so equal scores order deterministically. Relevance without a ranked text
// query, and any unknown key, sorts newest first.
func sortProducts(products []models.Product, key SortKey, in sortInputs) {
	var less func(a, b models.Product) (bool, bool)

	switch key {
	case SortPriceAsc:
		less = func(a, b models.Product) (bool, bool) { return a.Price < b.Price, a.Price != b.Price }
	case SortPriceDesc:
		less = func(a, b models.Product) (bool, bool) { return a.Price > b.Price, a.Price != b.Price }
	case SortNameAsc:
		less = func(a, b models.Product) (bool, bool) {
			x, y := strings.ToLower(a.Name), strings.ToLower(b.Name)
			return x < y, x != y
		}
	case SortNameDesc:
		less = func(a, b models.Product) (bool, bool) {
			x, y := strings.ToLower(a.Name), strings.ToLower(b.Name)
			return x > y, x != y
		}
	case SortRating:
		less = func(a, b models.Product) (bool, bool) {
			ra, okA := in.ratings[a.ID]
			rb, okB := in.ratings[b.ID]
			if okA != okB {
				return okA, true
			}
			return ra > rb, ra != rb
		}
	case SortPopularity:
		less = func(a, b models.Product) (bool, bool) {
			va, vb := in.views[a.ID], in.views[b.ID]
			return va > vb, va != vb
		}
	case SortRelevance:
		if in.ranked {
			less = func(a, b models.Product) (bool, bool) {
				sa, sb := in.relevance[a.ID], in.relevance[b.ID]
				return sa > sb, sa != sb
			}
			break
		}
		less = newestFirst
	default:
		less = newestFirst
	}

	sort.SliceStable(products, func(i, j int) bool {
		if before, decided := less(products[i], products[j]); decided {
			return before
		}
		return products[i].ID < products[j].ID
	})
}

func newestFirst(a, b models.Product) (bool, bool) {
	return a.CreatedAt.After(b.CreatedAt), !a.CreatedAt.Equal(b.CreatedAt)
}
