package recommend

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/product-discovery/backend/internal/cache"
	"github.com/product-discovery/backend/internal/catalog/catalogtest"
	"github.com/product-discovery/backend/internal/similarity"
	"github.com/product-discovery/backend/internal/storage/models"
	"github.com/product-discovery/backend/pkg/apperr"
)

func ptr[T any](v T) *T { return &v }

type eventLog struct {
	mu          sync.Mutex
	impressions [][]models.RecommendationEvent
	clicks      []models.RecommendationEvent
}

func (e *eventLog) RecordImpressions(ctx context.Context, batch []models.RecommendationEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.impressions = append(e.impressions, batch)
}

func (e *eventLog) RecordClick(ctx context.Context, event models.RecommendationEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clicks = append(e.clicks, event)
}

type fixture struct {
	cat    *catalogtest.Catalog
	edges  *similarity.MemoryStore
	events *eventLog
	svc    *Service
}

// Products: X=1, Y=2, Z=3 and W=4 in category 1; V=5 inactive; book 6 in
// category 2. Edges exist only for X.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	cat := catalogtest.New().
		AddCategory(1, "Audio").
		AddCategory(2, "Books").
		AddCategory(3, "Empty").
		AddProduct(models.Product{ID: 1, Name: "X", CategoryID: 1, IsActive: true}).
		AddProduct(models.Product{ID: 2, Name: "Y", CategoryID: 1, IsActive: true}).
		AddProduct(models.Product{ID: 3, Name: "Z", CategoryID: 1, IsActive: true}).
		AddProduct(models.Product{ID: 4, Name: "W", CategoryID: 1, IsActive: true}).
		AddProduct(models.Product{ID: 5, Name: "V", CategoryID: 1, IsActive: false}).
		AddProduct(models.Product{ID: 6, Name: "Novel", CategoryID: 2, IsActive: true})

	edges := similarity.NewMemoryStore()
	_, err := edges.ReplaceEdges(context.Background(), []models.SimilarityEdge{
		{ProductA: 1, ProductB: 2, Score: 0.9},
		{ProductA: 1, ProductB: 3, Score: 0.5},
		{ProductA: 1, ProductB: 5, Score: 0.95},
	})
	require.NoError(t, err)

	events := &eventLog{}
	facade := cache.New(cache.NewMemoryStore(), cache.Options{})
	svc := NewService(cat, edges, facade, events, DefaultConfig(), nil)

	return &fixture{cat: cat, edges: edges, events: events, svc: svc}
}

func productIDs(products []models.Product) []int64 {
	out := make([]int64, len(products))
	for i, p := range products {
		out[i] = p.ID
	}
	return out
}

func TestRecommendSimilarProducts(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Recommend(context.Background(), Request{ProductID: ptr(int64(1))}, models.Caller{UserID: "u1"})
	require.NoError(t, err)

	assert.Equal(t, SourceSimilarProducts, res.Source)
	assert.Equal(t, []int64{2, 3}, productIDs(res.Products), "inactive targets are skipped")

	require.Len(t, f.events.impressions, 1)
	batch := f.events.impressions[0]
	require.Len(t, batch, 2)
	for i, ev := range batch {
		assert.Equal(t, i, ev.Position)
		assert.Equal(t, res.Products[i].ID, ev.ProductID)
		assert.Equal(t, models.EventImpression, ev.EventType)
		assert.Equal(t, "similar_products", ev.Source)
		assert.Equal(t, "u1", ev.UserID)
	}
}

func TestRecommendFallsBackToSameCategory(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Recommend(context.Background(), Request{ProductID: ptr(int64(4))}, models.Caller{})
	require.NoError(t, err)

	assert.Equal(t, SourceSameCategory, res.Source)
	assert.Equal(t, []int64{3, 2, 1}, productIDs(res.Products), "newest first, seed and inactive excluded")
}

func TestRecommendFallsBackToPopular(t *testing.T) {
	f := newFixture(t)
	f.cat.AddReview(2, 5).AddReview(3, 3)

	res, err := f.svc.Recommend(context.Background(), Request{ProductID: ptr(int64(6)), Limit: 3}, models.Caller{})
	require.NoError(t, err)

	assert.Equal(t, SourcePopularProducts, res.Source)
	assert.Equal(t, []int64{2, 3, 1}, productIDs(res.Products))
}

func TestRecommendHonoursLimit(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Recommend(context.Background(), Request{ProductID: ptr(int64(1)), Limit: 1}, models.Caller{})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, productIDs(res.Products))
}

func TestRecommendCategoryTopRated(t *testing.T) {
	f := newFixture(t)
	f.cat.AddReview(3, 5).AddReview(2, 4).AddReview(4, 4)

	res, err := f.svc.Recommend(context.Background(), Request{CategoryID: ptr(int64(1))}, models.Caller{})
	require.NoError(t, err)

	assert.Equal(t, SourceCategoryTopRated, res.Source)
	assert.Equal(t, []int64{3, 2, 4, 1}, productIDs(res.Products), "unrated last, ties by id")

	empty, err := f.svc.Recommend(context.Background(), Request{CategoryID: ptr(int64(3))}, models.Caller{})
	require.NoError(t, err)
	assert.Empty(t, empty.Products)
	assert.Equal(t, SourceCategoryTopRated, empty.Source)
}

func TestRecommendCacheHitStillRecordsImpressions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Recommend(ctx, Request{ProductID: ptr(int64(1))}, models.Caller{})
	require.NoError(t, err)
	calls := f.cat.ActiveCalls

	second, err := f.svc.Recommend(ctx, Request{ProductID: ptr(int64(1))}, models.Caller{})
	require.NoError(t, err)

	assert.Equal(t, calls, f.cat.ActiveCalls)
	assert.Equal(t, first.Source, second.Source)
	assert.Equal(t, productIDs(first.Products), productIDs(second.Products))
	assert.Len(t, f.events.impressions, 2)
}

func TestPublishGenerationInvalidatesProductRecommendations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Recommend(ctx, Request{ProductID: ptr(int64(1))}, models.Caller{})
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3}, productIDs(res.Products))

	edges := []models.SimilarityEdge{{ProductA: 1, ProductB: 4, Score: 0.7}}
	gen, err := f.edges.ReplaceEdges(ctx, edges)
	require.NoError(t, err)
	require.NoError(t, f.svc.PublishGeneration(ctx, gen, edges))

	res, err = f.svc.Recommend(ctx, Request{ProductID: ptr(int64(1))}, models.Caller{})
	require.NoError(t, err)
	assert.Equal(t, []int64{4}, productIDs(res.Products))
}

func TestRecommendErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Recommend(ctx, Request{ProductID: ptr(int64(999))}, models.Caller{})
	assert.True(t, apperr.IsNotFound(err))

	_, err = f.svc.Recommend(ctx, Request{ProductID: ptr(int64(5))}, models.Caller{})
	assert.True(t, apperr.IsNotFound(err), "inactive seed is not found")

	_, err = f.svc.Recommend(ctx, Request{CategoryID: ptr(int64(999))}, models.Caller{})
	assert.True(t, apperr.IsNotFound(err))

	var v *apperr.ValidationError
	_, err = f.svc.Recommend(ctx, Request{}, models.Caller{})
	require.ErrorAs(t, err, &v)
	assert.Contains(t, v.Fields, "product_id")

	_, err = f.svc.Recommend(ctx, Request{ProductID: ptr(int64(1)), CategoryID: ptr(int64(1))}, models.Caller{})
	require.ErrorAs(t, err, &v)
	assert.Contains(t, v.Fields, "category_id")

	_, err = f.svc.Recommend(ctx, Request{ProductID: ptr(int64(1)), Limit: 51}, models.Caller{})
	require.ErrorAs(t, err, &v)
	assert.Contains(t, v.Fields, "limit")

	assert.Empty(t, f.events.impressions)
}

func TestRecordClick(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.svc.RecordClick(ctx, ClickRequest{
		ProductID: 2,
		EventType: "click",
		Source:    SourceSimilarProducts,
		Position:  ptr(0),
	}, models.Caller{SessionID: "s1"})
	require.NoError(t, err)

	require.Len(t, f.events.clicks, 1)
	click := f.events.clicks[0]
	assert.Equal(t, models.EventClick, click.EventType)
	assert.Equal(t, int64(2), click.ProductID)
	assert.Equal(t, 0, click.Position)
	assert.Equal(t, "s1", click.SessionID)
}

func TestRecordClickValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		req   ClickRequest
		field string
	}{
		{"missing position", ClickRequest{ProductID: 2, Source: SourceSameCategory}, "position"},
		{"negative position", ClickRequest{ProductID: 2, Source: SourceSameCategory, Position: ptr(-1)}, "position"},
		{"unknown source", ClickRequest{ProductID: 2, Source: "trending", Position: ptr(0)}, "source"},
		{"wrong event type", ClickRequest{ProductID: 2, EventType: "impression", Source: SourceSameCategory, Position: ptr(0)}, "event_type"},
		{"missing product", ClickRequest{Source: SourceSameCategory, Position: ptr(0)}, "product_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := f.svc.RecordClick(ctx, tc.req, models.Caller{})
			var v *apperr.ValidationError
			require.ErrorAs(t, err, &v)
			assert.Contains(t, v.Fields, tc.field)
		})
	}

	err := f.svc.RecordClick(ctx, ClickRequest{ProductID: 999, Source: SourceSameCategory, Position: ptr(0)}, models.Caller{})
	assert.True(t, apperr.IsNotFound(err))
	assert.Empty(t, f.events.clicks)
}
