package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Search.DefaultLimit)
	assert.Equal(t, 50, cfg.Search.MaxLimit)
	assert.Equal(t, 2.5, cfg.Search.NameBoost)
	assert.Equal(t, 10, cfg.Similarity.TopK)
	assert.Equal(t, 0.1, cfg.Similarity.MinScore)
	assert.Equal(t, 24*time.Hour, cfg.Similarity.Interval)
	assert.Equal(t, 90, cfg.Events.RetentionDays)
	assert.Equal(t, 150*time.Millisecond, cfg.Cache.OpTimeout())
	assert.Equal(t, time.Minute, cfg.Cache.SweepInterval)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DISCOVERY_SERVER_PORT", "9090")
	t.Setenv("DISCOVERY_SIMILARITY_STORE", "memory")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Similarity.Store)
}

func TestValidateRejectsNonsense(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Similarity.MinScore = 1.5
	cfg.Search.DefaultLimit = 0
	cfg.Similarity.Store = "cassandra"

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "similarity.minScore")
	assert.Contains(t, err.Error(), "search.defaultLimit")
	assert.Contains(t, err.Error(), "similarity.store")
}

func TestTTLOverrides(t *testing.T) {
	c := CacheConfig{TTL: map[string]int{"cart": 60, "product": 0}}
	assert.Equal(t, map[string]time.Duration{"cart": time.Minute}, c.TTLOverrides())
}
