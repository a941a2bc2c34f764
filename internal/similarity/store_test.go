package similarity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/product-discovery/backend/internal/storage/models"
)

func TestMemoryStoreSwapsGenerations(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	gen, err := s.ReplaceEdges(ctx, []models.SimilarityEdge{
		{ProductA: 1, ProductB: 3, Score: 0.4},
		{ProductA: 1, ProductB: 2, Score: 0.9},
		{ProductA: 1, ProductB: 4, Score: 0.4},
		{ProductA: 2, ProductB: 1, Score: 0.9},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)

	n, err := s.Neighbors(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, n, 3)
	assert.Equal(t, []int64{2, 3, 4}, []int64{n[0].ProductB, n[1].ProductB, n[2].ProductB})

	n, err = s.Neighbors(ctx, 1, 2)
	require.NoError(t, err)
	assert.Len(t, n, 2)

	gen, err = s.ReplaceEdges(ctx, []models.SimilarityEdge{{ProductA: 5, ProductB: 6, Score: 0.5}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), gen)

	n, err = s.Neighbors(ctx, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, n, "previous generation is gone after the swap")

	all, err := s.ActiveEdges(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.SimilarityEdge{{ProductA: 5, ProductB: 6, Score: 0.5}}, all)
}

func TestMemoryStoreNeighborsReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.ReplaceEdges(ctx, []models.SimilarityEdge{{ProductA: 1, ProductB: 2, Score: 0.5}})
	require.NoError(t, err)

	n, _ := s.Neighbors(ctx, 1, 0)
	n[0].Score = 0

	again, _ := s.Neighbors(ctx, 1, 0)
	assert.Equal(t, 0.5, again[0].Score)
}
