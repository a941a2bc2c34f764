package cache

import "time"

const defaultTTL = 5 * time.Minute

// Catalog data changes rarely; per-user data changes on direct user action
// and gets the shortest TTLs.
var defaultPolicy = map[Namespace]time.Duration{
	NSProduct:                 15 * time.Minute,
	NSProductList:             10 * time.Minute,
	NSCategoryProducts:        10 * time.Minute,
	NSSearchResults:           5 * time.Minute,
	NSRecommendationsProduct:  30 * time.Minute,
	NSRecommendationsCategory: 30 * time.Minute,
	NSWishlist:                5 * time.Minute,
	NSCart:                    2 * time.Minute,
	NSRecentlyViewed:          5 * time.Minute,
}

// TTLPolicy maps namespaces to their time-to-live.
type TTLPolicy struct {
	ttls map[Namespace]time.Duration
}

// NewTTLPolicy returns the default table with overrides applied.
func NewTTLPolicy(overrides map[string]time.Duration) TTLPolicy {
	ttls := make(map[Namespace]time.Duration, len(defaultPolicy)+len(overrides))
	for ns, ttl := range defaultPolicy {
		ttls[ns] = ttl
	}
	for ns, ttl := range overrides {
		if ttl > 0 {
			ttls[Namespace(ns)] = ttl
		}
	}
	return TTLPolicy{ttls: ttls}
}

func (p TTLPolicy) For(ns Namespace) time.Duration {
	if ttl, ok := p.ttls[ns]; ok {
		return ttl
	}
	return defaultTTL
}
