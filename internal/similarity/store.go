package similarity

import (
	"context"
	"sort"
	"sync/atomic"

	"github.com/product-discovery/backend/internal/storage/models"
)

// EdgeStore holds the active similarity generation. ReplaceEdges swaps in a
// complete new generation; readers never observe a partial one.
type EdgeStore interface {
	ReplaceEdges(ctx context.Context, edges []models.SimilarityEdge) (int64, error)
	// Neighbors returns edges anchored at productID, best first. limit <= 0
	// returns all of them.
	Neighbors(ctx context.Context, productID int64, limit int) ([]models.SimilarityEdge, error)
}

type generation struct {
	id       int64
	byAnchor map[int64][]models.SimilarityEdge
}

var _ EdgeStore = (*MemoryStore)(nil)

// MemoryStore double-buffers generations behind an atomic pointer.
type MemoryStore struct {
	current atomic.Pointer[generation]
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	s.current.Store(&generation{byAnchor: map[int64][]models.SimilarityEdge{}})
	return s
}

func (s *MemoryStore) ReplaceEdges(ctx context.Context, edges []models.SimilarityEdge) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	staged := make(map[int64][]models.SimilarityEdge)
	for _, e := range edges {
		staged[e.ProductA] = append(staged[e.ProductA], e)
	}
	for _, list := range staged {
		sortEdges(list)
	}

	next := &generation{id: s.current.Load().id + 1, byAnchor: staged}
	s.current.Store(next)
	return next.id, nil
}

func (s *MemoryStore) Neighbors(ctx context.Context, productID int64, limit int) ([]models.SimilarityEdge, error) {
	list := s.current.Load().byAnchor[productID]
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	out := make([]models.SimilarityEdge, len(list))
	copy(out, list)
	return out, nil
}

func (s *MemoryStore) ActiveGeneration(ctx context.Context) (int64, error) {
	return s.current.Load().id, nil
}

// ActiveEdges returns every edge ordered by anchor, then score descending.
func (s *MemoryStore) ActiveEdges(ctx context.Context) ([]models.SimilarityEdge, error) {
	gen := s.current.Load()

	anchors := make([]int64, 0, len(gen.byAnchor))
	for a := range gen.byAnchor {
		anchors = append(anchors, a)
	}
	sort.Slice(anchors, func(i, j int) bool { return anchors[i] < anchors[j] })

	var out []models.SimilarityEdge
	for _, a := range anchors {
		out = append(out, gen.byAnchor[a]...)
	}
	return out, nil
}

func sortEdges(edges []models.SimilarityEdge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Score != edges[j].Score {
			return edges[i].Score > edges[j].Score
		}
		return edges[i].ProductB < edges[j].ProductB
	})
}
