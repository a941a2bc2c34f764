package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Store.Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store is the shared key-value backend behind the Facade.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set writes value and registers key under every tag.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error
	// InvalidateTags deletes every key registered under the tags, then the tags.
	InvalidateTags(ctx context.Context, tags ...string) (int, error)
	// Tags lists registered tags matching a path.Match glob.
	Tags(ctx context.Context, pattern string) ([]string, error)
}
