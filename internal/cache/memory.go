package cache

import (
	"context"
	"path"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is an in-process Store. An expired entry is dropped when it is
// read or by the next Sweep, which also prunes tags left without live keys.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	tags    map[string]map[string]struct{}
	now     func() time.Time
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ Sweeper = (*MemoryStore)(nil)
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		tags:    make(map[string]map[string]struct{}),
		now:     time.Now,
	}
}

// WithClock replaces the time source; for tests.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	if m.now().After(entry.expiresAt) {
		delete(m.entries, key)
		return nil, ErrMiss
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	m.entries[key] = memoryEntry{value: stored, expiresAt: m.now().Add(ttl)}

	for _, tag := range tags {
		members, ok := m.tags[tag]
		if !ok {
			members = make(map[string]struct{})
			m.tags[tag] = members
		}
		members[key] = struct{}{}
	}
	return nil
}

func (m *MemoryStore) InvalidateTags(ctx context.Context, tags ...string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	deleted := 0
	for _, tag := range tags {
		for key := range m.tags[tag] {
			if _, ok := m.entries[key]; ok {
				delete(m.entries, key)
				deleted++
			}
		}
		delete(m.tags, tag)
	}
	return deleted, nil
}

func (m *MemoryStore) Tags(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for tag := range m.tags {
		ok, err := path.Match(pattern, tag)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, tag)
		}
	}
	return out, nil
}

// Sweep deletes expired entries and tags with no remaining keys.
func (m *MemoryStore) Sweep(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, key)
			removed++
		}
	}

	for tag, members := range m.tags {
		for key := range members {
			if _, ok := m.entries[key]; !ok {
				delete(members, key)
			}
		}
		if len(members) == 0 {
			delete(m.tags, tag)
		}
	}
	return removed, nil
}

// Len reports stored entries; expired entries count until read or swept.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// TagCount reports registered tags.
func (m *MemoryStore) TagCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tags)
}
