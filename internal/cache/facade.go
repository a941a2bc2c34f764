// Package cache implements the cache-aside facade shared by the discovery
// read paths. The cache is an optimization only: store failures degrade to
// misses on read and are logged and swallowed on write and invalidation.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/product-discovery/backend/internal/metrics"
)

const defaultOpTimeout = 150 * time.Millisecond

type Options struct {
	// OpTimeout bounds every store call. A timed-out read is a miss.
	OpTimeout    time.Duration
	TTLOverrides map[string]time.Duration
	Logger       *zap.Logger
}

type Facade struct {
	store   Store
	policy  TTLPolicy
	timeout time.Duration
	log     *zap.Logger
}

func New(store Store, opts Options) *Facade {
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = defaultOpTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Facade{
		store:   store,
		policy:  NewTTLPolicy(opts.TTLOverrides),
		timeout: opts.OpTimeout,
		log:     opts.Logger,
	}
}

func (f *Facade) TTL(ns Namespace) time.Duration {
	return f.policy.For(ns)
}

// Get decodes the cached value into dst and reports whether it was found.
func (f *Facade) Get(ctx context.Context, ns Namespace, id string, params Params, dst any) bool {
	key := Key(ns, id, params)

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	data, err := f.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			metrics.CacheErrors.WithLabelValues(string(ns), "get").Inc()
			f.log.Warn("Cache read degraded, treating as miss",
				zap.String("namespace", string(ns)),
				zap.String("key", key),
				zap.Error(err),
			)
		}
		metrics.CacheMisses.WithLabelValues(string(ns)).Inc()
		return false
	}

	if err := json.Unmarshal(data, dst); err != nil {
		metrics.CacheErrors.WithLabelValues(string(ns), "decode").Inc()
		f.log.Warn("Discarding undecodable cache entry",
			zap.String("key", key),
			zap.Error(err),
		)
		metrics.CacheMisses.WithLabelValues(string(ns)).Inc()
		return false
	}

	metrics.CacheHits.WithLabelValues(string(ns)).Inc()
	f.log.Debug("Cache hit", zap.String("key", key))
	return true
}

// Set stores value under the derived key. A zero ttl uses the namespace policy.
// Extra tags let callers invalidate the entry by something other than its key.
func (f *Facade) Set(ctx context.Context, ns Namespace, id string, params Params, value any, ttl time.Duration, tags ...string) {
	key := Key(ns, id, params)
	if ttl <= 0 {
		ttl = f.policy.For(ns)
	}

	data, err := json.Marshal(value)
	if err != nil {
		f.log.Error("Failed to encode cache value", zap.String("key", key), zap.Error(err))
		return
	}

	allTags := make([]string, 0, len(tags)+2)
	allTags = append(allTags, namespaceTag(ns), identifierTag(ns, id))
	allTags = append(allTags, tags...)

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	if err := f.store.Set(ctx, key, data, ttl, allTags); err != nil {
		metrics.CacheErrors.WithLabelValues(string(ns), "set").Inc()
		f.log.Warn("Cache write failed", zap.String("key", key), zap.Error(err))
		return
	}

	f.log.Debug("Cached", zap.String("key", key), zap.Duration("ttl", ttl))
}

// InvalidateExact removes every parameter variant cached for (namespace, id).
func (f *Facade) InvalidateExact(ctx context.Context, ns Namespace, id string) {
	f.invalidate(ctx, "exact", identifierTag(ns, id))
}

// InvalidateNamespace removes every key in the namespaces matching pattern,
// a path.Match glob such as "recommendations_*".
func (f *Facade) InvalidateNamespace(ctx context.Context, pattern string) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	tags, err := f.store.Tags(ctx, "ns:"+pattern)
	if err != nil {
		metrics.CacheErrors.WithLabelValues(pattern, "invalidate").Inc()
		f.log.Warn("Failed to resolve namespace pattern", zap.String("pattern", pattern), zap.Error(err))
		return
	}
	if len(tags) == 0 {
		return
	}

	n, err := f.store.InvalidateTags(ctx, tags...)
	if err != nil {
		metrics.CacheErrors.WithLabelValues(pattern, "invalidate").Inc()
		f.log.Warn("Namespace invalidation failed", zap.String("pattern", pattern), zap.Error(err))
		return
	}

	metrics.CacheInvalidations.WithLabelValues("namespace").Add(float64(n))
	f.log.Info("Cache namespace invalidated", zap.String("pattern", pattern), zap.Int("keys", n))
}

// InvalidateTag removes every key registered under the given tags.
func (f *Facade) InvalidateTag(ctx context.Context, tags ...string) {
	f.invalidate(ctx, "tag", tags...)
}

func (f *Facade) invalidate(ctx context.Context, kind string, tags ...string) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	n, err := f.store.InvalidateTags(ctx, tags...)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("", "invalidate").Inc()
		f.log.Warn("Cache invalidation failed", zap.Strings("tags", tags), zap.Error(err))
		return
	}
	metrics.CacheInvalidations.WithLabelValues(kind).Add(float64(n))
	f.log.Debug("Cache invalidated", zap.Strings("tags", tags), zap.Int("keys", n))
}
