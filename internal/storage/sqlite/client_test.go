package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/product-discovery/backend/internal/storage/models"
	"github.com/product-discovery/backend/pkg/apperr"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	c, err := NewClient(filepath.Join(t.TempDir(), "discovery.db"))
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())
	t.Cleanup(func() { c.Close() })
	return c
}

func seedCatalog(t *testing.T, c *Client) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, c.UpsertCategory(ctx, &models.Category{ID: 1, Name: "Audio", Slug: "audio", IsActive: true, CreatedAt: base}))
	require.NoError(t, c.UpsertCategory(ctx, &models.Category{ID: 2, Name: "Books", Slug: "books", IsActive: true, CreatedAt: base}))

	products := []models.Product{
		{ID: 1, Name: "Headphones", Slug: "headphones", CategoryID: 1, Price: 10, Stock: 3, IsActive: true, CreatedAt: base},
		{ID: 2, Name: "Speaker", Slug: "speaker", CategoryID: 1, Price: 20, Stock: 0, IsActive: true, CreatedAt: base.Add(time.Hour)},
		{ID: 3, Name: "Old Radio", Slug: "old-radio", CategoryID: 1, Price: 30, Stock: 1, IsActive: false, CreatedAt: base.Add(2 * time.Hour)},
		{ID: 4, Name: "Novel", Slug: "novel", CategoryID: 2, Price: 5, Stock: 9, IsActive: true, CreatedAt: base.Add(3 * time.Hour)},
	}
	for i := range products {
		require.NoError(t, c.UpsertProduct(ctx, &products[i]))
	}
}

func TestConnectionSettingsApplyToEveryConnection(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	// Hold several connections at once so the pool has to open new ones.
	var conns []*sql.Conn
	for i := 0; i < 3; i++ {
		conn, err := c.db.Conn(ctx)
		require.NoError(t, err)
		conns = append(conns, conn)
	}
	t.Cleanup(func() {
		for _, conn := range conns {
			conn.Close()
		}
	})

	for i, conn := range conns {
		var busy, foreignKeys int
		var journal string
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busy))
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&foreignKeys))
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journal))

		assert.Equal(t, 5000, busy, "connection %d", i)
		assert.Equal(t, 1, foreignKeys, "connection %d", i)
		assert.Equal(t, "wal", journal, "connection %d", i)
	}
}

func TestDSNAppendsParams(t *testing.T) {
	assert.Equal(t, "/tmp/a.db?"+connParams, dsn("/tmp/a.db"))
	assert.Equal(t, "file:a.db?cache=shared&"+connParams, dsn("file:a.db?cache=shared"))
}

func TestCatalogReads(t *testing.T) {
	c := newTestClient(t)
	seedCatalog(t, c)
	ctx := context.Background()

	active, err := c.GetActiveProducts(ctx)
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, []int64{1, 2, 4}, []int64{active[0].ID, active[1].ID, active[2].ID})
	assert.Equal(t, base.Add(time.Hour), active[1].CreatedAt)

	p, err := c.GetProductByID(ctx, 3)
	require.NoError(t, err)
	assert.False(t, p.IsActive)

	_, err = c.GetProductByID(ctx, 99)
	assert.True(t, apperr.IsNotFound(err))

	cat, err := c.GetCategoryByID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Books", cat.Name)

	_, err = c.GetCategoryByID(ctx, 42)
	assert.True(t, apperr.IsNotFound(err))
}

func TestAggregateRatings(t *testing.T) {
	c := newTestClient(t)
	seedCatalog(t, c)
	ctx := context.Background()

	require.NoError(t, c.InsertReview(ctx, &models.Review{ProductID: 1, Rating: 4}))
	require.NoError(t, c.InsertReview(ctx, &models.Review{ProductID: 1, Rating: 5}))
	require.NoError(t, c.InsertReview(ctx, &models.Review{ProductID: 2, Rating: 2}))

	rating, ok, err := c.GetAggregateRating(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.InDelta(t, 4.5, rating, 1e-9)

	_, ok, err = c.GetAggregateRating(ctx, 4)
	require.NoError(t, err)
	assert.False(t, ok)

	ratings, err := c.GetAggregateRatings(ctx, []int64{1, 2, 4})
	require.NoError(t, err)
	assert.Equal(t, map[int64]float64{1: 4.5, 2: 2}, ratings)
}

func TestAggregateLookupsAcceptLargeIDLists(t *testing.T) {
	c := newTestClient(t)
	seedCatalog(t, c)
	ctx := context.Background()

	require.NoError(t, c.InsertReview(ctx, &models.Review{ProductID: 1, Rating: 3}))
	require.NoError(t, c.InsertReview(ctx, &models.Review{ProductID: 4, Rating: 5}))
	require.NoError(t, c.InsertProductViews(ctx, []models.ProductView{
		{ID: "v1", ProductID: 4, ViewedAt: base},
	}))

	// More ids than SQLite accepts as bound parameters in one statement.
	ids := make([]int64, 40000)
	for i := range ids {
		ids[i] = int64(i + 1)
	}

	ratings, err := c.GetAggregateRatings(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, map[int64]float64{1: 3, 4: 5}, ratings)

	views, err := c.ViewCounts(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{4: 1}, views)

	empty, err := c.GetAggregateRatings(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestReplaceEdgesSwapsGeneration(t *testing.T) {
	c := newTestClient(t)
	seedCatalog(t, c)
	ctx := context.Background()

	gen, err := c.ActiveGeneration(ctx)
	require.NoError(t, err)
	assert.Zero(t, gen)

	first := []models.SimilarityEdge{
		{ProductA: 1, ProductB: 2, Score: 0.8, LastUpdated: base},
		{ProductA: 1, ProductB: 4, Score: 0.3, LastUpdated: base},
	}
	gen, err = c.ReplaceEdges(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)

	second := []models.SimilarityEdge{
		{ProductA: 2, ProductB: 1, Score: 0.5, LastUpdated: base},
	}
	gen, err = c.ReplaceEdges(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), gen)

	edges, err := c.ActiveEdges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, int64(2), edges[0].ProductA)

	neighbors, err := c.Neighbors(ctx, 1, 0)
	require.NoError(t, err)
	assert.Empty(t, neighbors)
}

func TestReplaceEdgesFailureKeepsPreviousGeneration(t *testing.T) {
	c := newTestClient(t)
	seedCatalog(t, c)
	ctx := context.Background()

	_, err := c.ReplaceEdges(ctx, []models.SimilarityEdge{{ProductA: 1, ProductB: 2, Score: 0.9, LastUpdated: base}})
	require.NoError(t, err)

	_, err = c.ReplaceEdges(ctx, []models.SimilarityEdge{
		{ProductA: 2, ProductB: 1, Score: 0.4, LastUpdated: base},
		{ProductA: 4, ProductB: 4, Score: 1, LastUpdated: base},
	})
	require.Error(t, err)

	gen, err := c.ActiveGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)

	edges, err := c.ActiveEdges(ctx)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, int64(1), edges[0].ProductA)
}

func TestNeighborsSkipsInactiveTargets(t *testing.T) {
	c := newTestClient(t)
	seedCatalog(t, c)
	ctx := context.Background()

	_, err := c.ReplaceEdges(ctx, []models.SimilarityEdge{
		{ProductA: 1, ProductB: 3, Score: 0.9, LastUpdated: base},
		{ProductA: 1, ProductB: 4, Score: 0.3, LastUpdated: base},
		{ProductA: 1, ProductB: 2, Score: 0.3, LastUpdated: base},
	})
	require.NoError(t, err)

	edges, err := c.Neighbors(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, int64(2), edges[0].ProductB)
	assert.Equal(t, int64(4), edges[1].ProductB)

	edges, err = c.Neighbors(ctx, 1, 1)
	require.NoError(t, err)
	assert.Len(t, edges, 1)
}

func TestEventsInsertCountAndPurge(t *testing.T) {
	c := newTestClient(t)
	seedCatalog(t, c)
	ctx := context.Background()

	old := base
	recent := base.AddDate(0, 0, 100)

	require.NoError(t, c.InsertSearchQueries(ctx, []models.SearchQueryLog{
		{ID: "q1", UserID: "u1", QueryText: "Speaker", ResultCount: 1, CreatedAt: old},
		{ID: "q2", SessionID: "s1", QueryText: "speaker ", ResultCount: 3, CreatedAt: recent},
		{ID: "q3", UserID: "u2", QueryText: "novel", ResultCount: 1, CreatedAt: recent},
	}))

	require.NoError(t, c.InsertRecommendationEvents(ctx, []models.RecommendationEvent{
		{ID: "e1", ProductID: 2, EventType: models.EventImpression, Source: "similar_products", Position: 0, CreatedAt: recent},
		{ID: "e2", ProductID: 4, EventType: models.EventImpression, Source: "similar_products", Position: 1, CreatedAt: recent},
		{ID: "e3", ProductID: 2, EventType: models.EventClick, Source: "similar_products", Position: 0, CreatedAt: recent},
		{ID: "e4", ProductID: 2, EventType: models.EventImpression, Source: "same_category", Position: 0, CreatedAt: old},
	}))

	require.NoError(t, c.InsertProductViews(ctx, []models.ProductView{
		{ID: "v1", ProductID: 2, ViewedAt: recent},
		{ID: "v2", ProductID: 2, ViewedAt: recent},
		{ID: "v3", ProductID: 1, ViewedAt: old},
	}))

	views, err := c.ViewCounts(ctx, []int64{1, 2, 4})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{1: 1, 2: 2}, views)

	counts, err := c.CountRecommendationEvents(ctx, recent.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []models.RecommendationEventCount{
		{Source: "similar_products", Position: 0, EventType: models.EventClick, Count: 1},
		{Source: "similar_products", Position: 0, EventType: models.EventImpression, Count: 1},
		{Source: "similar_products", Position: 1, EventType: models.EventImpression, Count: 1},
	}, counts)

	top, err := c.TopSearchQueries(ctx, old, 5)
	require.NoError(t, err)
	require.NotEmpty(t, top)
	assert.Equal(t, "speaker", top[0].QueryText)
	assert.Equal(t, int64(2), top[0].Count)

	purged, err := c.PurgeEventsBefore(ctx, base.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Equal(t, models.PurgeCounts{SearchQueries: 1, ProductViews: 1, RecommendationEvents: 1}, purged)

	views, err = c.ViewCounts(ctx, []int64{1, 2})
	require.NoError(t, err)
	assert.Equal(t, map[int64]int64{2: 2}, views)
}

func TestLoadSeedFile(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"categories": [{"id": 1, "name": "Audio", "slug": "audio", "is_active": true}],
		"products": [
			{"id": 10, "name": "Earbuds", "slug": "earbuds", "description": "<p>Wireless</p>", "category_id": 1, "price": 49.5, "stock": 4, "is_active": true}
		],
		"reviews": [{"product_id": 10, "rating": 5}]
	}`), 0o644))

	require.NoError(t, c.LoadSeedFile(ctx, path))

	p, err := c.GetProductByID(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, "Earbuds", p.Name)
	assert.Equal(t, 49.5, p.Price)

	rating, ok, err := c.GetAggregateRating(ctx, 10)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5.0, rating)
}
