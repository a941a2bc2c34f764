package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/product-discovery/backend/internal/cache"
	"github.com/product-discovery/backend/pkg/circuitbreaker"
	"github.com/product-discovery/backend/pkg/logger"
)

const (
	tagPrefix   = "cachetag:"
	tagRegistry = "cachetag:registry"
)

// Store is a cache.Store on Redis. Every tag is a set of the keys written
// under it; the registry set lists known tags so namespace patterns resolve
// with SSCAN MATCH over tag names instead of scanning the keyspace.
type Store struct {
	client *redis.Client
	cb     *circuitbreaker.CircuitBreaker
}

var (
	_ cache.Store   = (*Store)(nil)
	_ cache.Sweeper = (*Store)(nil)
)

func NewStore(host string, port int, password string, db int) *Store {
	addr := fmt.Sprintf("%s:%d", host, port)
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  500 * time.Millisecond,
		ReadTimeout:  250 * time.Millisecond,
		WriteTimeout: 250 * time.Millisecond,
	})

	cb := circuitbreaker.NewCircuitBreaker("redis-cache", circuitbreaker.Config{
		MaxRequests:      3,
		Interval:         time.Minute,
		Timeout:          10 * time.Second,
		FailureThreshold: 5,
		IgnoreErrors:     []error{cache.ErrMiss, context.Canceled},
		Logger:           logger.GetLogger(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unreachable at startup, cache will run degraded", zap.String("addr", addr), zap.Error(err))
	} else {
		logger.Info("Redis cache store initialized", zap.String("addr", addr))
	}

	return &Store{client: client, cb: cb}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.cb.Execute(func() error {
		var err error
		data, err = s.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return cache.ErrMiss
		}
		return err
	})
	if err != nil {
		if errors.Is(err, cache.ErrMiss) {
			return nil, cache.ErrMiss
		}
		return nil, fmt.Errorf("failed to get cache key: %w", err)
	}
	return data, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	err := s.cb.Execute(func() error {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, value, ttl)
			for _, tag := range tags {
				tagKey := tagPrefix + tag
				pipe.SAdd(ctx, tagKey, key)
				// The tag set must outlive its longest-lived member.
				pipe.ExpireNX(ctx, tagKey, ttl)
				pipe.ExpireGT(ctx, tagKey, ttl)
				pipe.SAdd(ctx, tagRegistry, tag)
			}
			return nil
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to set cache key: %w", err)
	}
	return nil
}

func (s *Store) InvalidateTags(ctx context.Context, tags ...string) (int, error) {
	deleted := 0
	err := s.cb.Execute(func() error {
		for _, tag := range tags {
			tagKey := tagPrefix + tag
			keys, err := s.client.SMembers(ctx, tagKey).Result()
			if err != nil {
				return err
			}
			if len(keys) > 0 {
				n, err := s.client.Del(ctx, keys...).Result()
				if err != nil {
					return err
				}
				deleted += int(n)
			}
			if err := s.client.Del(ctx, tagKey).Err(); err != nil {
				return err
			}
			if err := s.client.SRem(ctx, tagRegistry, tag).Err(); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return deleted, fmt.Errorf("failed to invalidate tags: %w", err)
	}
	return deleted, nil
}

// Tags resolves pattern against the registry. Registry members whose tag set
// has already expired are dropped on the way.
func (s *Store) Tags(ctx context.Context, pattern string) ([]string, error) {
	var tags []string
	err := s.cb.Execute(func() error {
		matched, err := s.scanRegistry(ctx, pattern)
		if err != nil {
			return err
		}
		tags, _, err = s.pruneRegistry(ctx, matched)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan tag registry: %w", err)
	}
	return tags, nil
}

// Sweep removes registry members whose tag set no longer exists. Keys and
// tag sets themselves expire through their TTLs.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	removed := 0
	err := s.cb.Execute(func() error {
		all, err := s.scanRegistry(ctx, "*")
		if err != nil {
			return err
		}
		_, removed, err = s.pruneRegistry(ctx, all)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to sweep tag registry: %w", err)
	}
	return removed, nil
}

func (s *Store) scanRegistry(ctx context.Context, pattern string) ([]string, error) {
	var tags []string
	iter := s.client.SScan(ctx, tagRegistry, 0, pattern, 500).Iterator()
	for iter.Next(ctx) {
		tags = append(tags, iter.Val())
	}
	return tags, iter.Err()
}

// pruneRegistry splits tags into live ones and stale ones, removing the stale
// ones from the registry.
func (s *Store) pruneRegistry(ctx context.Context, tags []string) ([]string, int, error) {
	if len(tags) == 0 {
		return nil, 0, nil
	}

	pipe := s.client.Pipeline()
	exists := make([]*redis.IntCmd, len(tags))
	for i, tag := range tags {
		exists[i] = pipe.Exists(ctx, tagPrefix+tag)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, 0, err
	}

	live := make([]string, 0, len(tags))
	var stale []any
	for i, tag := range tags {
		if exists[i].Val() > 0 {
			live = append(live, tag)
		} else {
			stale = append(stale, tag)
		}
	}

	if len(stale) == 0 {
		return live, 0, nil
	}
	n, err := s.client.SRem(ctx, tagRegistry, stale...).Result()
	if err != nil {
		return nil, 0, err
	}
	logger.Debug("Pruned stale cache tags", zap.Int64("count", n))
	return live, int(n), nil
}
