package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// brokenStore fails every call, as an unreachable redis would.
type brokenStore struct{}

var errDown = errors.New("connection refused")

func (brokenStore) Get(ctx context.Context, key string) ([]byte, error) { return nil, errDown }
func (brokenStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	return errDown
}
func (brokenStore) InvalidateTags(ctx context.Context, tags ...string) (int, error) { return 0, errDown }
func (brokenStore) Tags(ctx context.Context, pattern string) ([]string, error)      { return nil, errDown }

// slowStore blocks until the context ends.
type slowStore struct{ brokenStore }

func (slowStore) Get(ctx context.Context, key string) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newFacade(store Store) *Facade {
	return New(store, Options{OpTimeout: 50 * time.Millisecond})
}

func TestKeyDerivation(t *testing.T) {
	assert.Equal(t, "product:42", Key(NSProduct, "42", nil))
	assert.Equal(t, "product:42", Key(NSProduct, "42", Params{}))

	a := Key(NSSearchResults, "abc", Params{"page": 1, "limit": 20, "sort_by": "price_asc"})
	b := Key(NSSearchResults, "abc", Params{"sort_by": "price_asc", "limit": 20, "page": 1})
	assert.Equal(t, a, b, "param order must not change the key")
	assert.Regexp(t, `^search_results:abc:[0-9a-f]{32}$`, a)

	c := Key(NSSearchResults, "abc", Params{"page": 2, "limit": 20, "sort_by": "price_asc"})
	assert.NotEqual(t, a, c)
}

func TestTTLPolicy(t *testing.T) {
	policy := NewTTLPolicy(map[string]time.Duration{"cart": time.Minute})

	assert.Equal(t, 15*time.Minute, policy.For(NSProduct))
	assert.Equal(t, 30*time.Minute, policy.For(NSRecommendationsProduct))
	assert.Equal(t, time.Minute, policy.For(NSCart))
	assert.Equal(t, 5*time.Minute, policy.For(Namespace("unknown")))
}

func TestGetSetRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFacade(NewMemoryStore())

	var got payload
	assert.False(t, f.Get(ctx, NSProduct, "1", nil, &got))

	f.Set(ctx, NSProduct, "1", nil, payload{Name: "lamp", Count: 3}, 0)
	require.True(t, f.Get(ctx, NSProduct, "1", nil, &got))
	assert.Equal(t, payload{Name: "lamp", Count: 3}, got)
}

func TestEntriesExpire(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore().WithClock(func() time.Time { return now })
	f := newFacade(store)

	f.Set(ctx, NSCart, "u1", nil, payload{Name: "cart"}, 0)

	var got payload
	now = now.Add(time.Minute)
	assert.True(t, f.Get(ctx, NSCart, "u1", nil, &got))

	now = now.Add(2 * time.Minute)
	assert.False(t, f.Get(ctx, NSCart, "u1", nil, &got))
	assert.Equal(t, 0, store.Len())
}

func TestInvalidateExactDropsAllParamVariants(t *testing.T) {
	ctx := context.Background()
	f := newFacade(NewMemoryStore())

	f.Set(ctx, NSCategoryProducts, "7", Params{"page": 1}, payload{Count: 1}, 0)
	f.Set(ctx, NSCategoryProducts, "7", Params{"page": 2}, payload{Count: 2}, 0)
	f.Set(ctx, NSCategoryProducts, "8", Params{"page": 1}, payload{Count: 3}, 0)

	f.InvalidateExact(ctx, NSCategoryProducts, "7")

	var got payload
	assert.False(t, f.Get(ctx, NSCategoryProducts, "7", Params{"page": 1}, &got))
	assert.False(t, f.Get(ctx, NSCategoryProducts, "7", Params{"page": 2}, &got))
	assert.True(t, f.Get(ctx, NSCategoryProducts, "8", Params{"page": 1}, &got))
}

func TestInvalidateNamespaceGlob(t *testing.T) {
	ctx := context.Background()
	f := newFacade(NewMemoryStore())

	f.Set(ctx, NSRecommendationsProduct, "1", Params{"limit": 5}, payload{}, 0)
	f.Set(ctx, NSRecommendationsCategory, "2", Params{"limit": 5}, payload{}, 0)
	f.Set(ctx, NSProduct, "1", nil, payload{}, 0)

	f.InvalidateNamespace(ctx, "recommendations_*")

	var got payload
	assert.False(t, f.Get(ctx, NSRecommendationsProduct, "1", Params{"limit": 5}, &got))
	assert.False(t, f.Get(ctx, NSRecommendationsCategory, "2", Params{"limit": 5}, &got))
	assert.True(t, f.Get(ctx, NSProduct, "1", nil, &got))

	// Keys written after invalidation are tracked again.
	f.Set(ctx, NSRecommendationsProduct, "1", Params{"limit": 5}, payload{}, 0)
	f.InvalidateNamespace(ctx, string(NSRecommendationsProduct))
	assert.False(t, f.Get(ctx, NSRecommendationsProduct, "1", Params{"limit": 5}, &got))
}

func TestInvalidateTag(t *testing.T) {
	ctx := context.Background()
	f := newFacade(NewMemoryStore())

	f.Set(ctx, NSProduct, "5", nil, payload{}, 0, ProductTag("5"))
	f.Set(ctx, NSCategoryProducts, "1", nil, payload{}, 0, CategoryProductsTag("1"))

	f.InvalidateTag(ctx, ProductTag("5"))

	var got payload
	assert.False(t, f.Get(ctx, NSProduct, "5", nil, &got))
	assert.True(t, f.Get(ctx, NSCategoryProducts, "1", nil, &got))
}

func TestUnreachableStoreDegradesToMiss(t *testing.T) {
	ctx := context.Background()
	f := newFacade(brokenStore{})

	var got payload
	assert.NotPanics(t, func() {
		f.Set(ctx, NSProduct, "1", nil, payload{Name: "x"}, 0)
		f.InvalidateExact(ctx, NSProduct, "1")
		f.InvalidateNamespace(ctx, "*")
		f.InvalidateTag(ctx, ProductTag("1"))
	})
	assert.False(t, f.Get(ctx, NSProduct, "1", nil, &got))
}

func TestSlowStoreIsBoundedByOpTimeout(t *testing.T) {
	f := newFacade(slowStore{})

	start := time.Now()
	var got payload
	assert.False(t, f.Get(context.Background(), NSProduct, "1", nil, &got))
	assert.Less(t, time.Since(start), time.Second)
}

func TestUndecodableEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	f := newFacade(store)

	require.NoError(t, store.Set(ctx, Key(NSProduct, "1", nil), []byte("{not json"), time.Minute, nil))

	var got payload
	assert.False(t, f.Get(ctx, NSProduct, "1", nil, &got))
}
