package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	SQLite     SQLiteConfig
	Redis      RedisConfig
	Cache      CacheConfig
	Catalog    CatalogConfig
	Search     SearchConfig
	Similarity SimilarityConfig
	Recommend  RecommendConfig
	Events     EventsConfig
	Neo4j      Neo4jConfig
	RateLimit  RateLimitConfig
	Logging    LoggingConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	ReadTimeout    int
	WriteTimeout   int
	BodyLimit      int
	AllowedOrigins []string
	Development    bool
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

type CacheConfig struct {
	OpTimeoutMs int
	// SweepInterval between passes that drop expired entries and stale tags.
	SweepInterval time.Duration
	// TTL overrides in seconds, keyed by namespace.
	TTL map[string]int
}

type CatalogConfig struct {
	SeedFile string
}

type SearchConfig struct {
	DefaultLimit     int
	MaxLimit         int
	MaxQueryLength   int
	FullTextEnabled  bool
	NameBoost        float64
	DescriptionBoost float64
}

type SimilarityConfig struct {
	Store        string
	TopK         int
	MinScore     float64
	MaxFeatures  int
	Workers      int
	Interval     time.Duration
	RunOnStartup bool
}

type RecommendConfig struct {
	DefaultLimit int
	MaxLimit     int
}

type EventsConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	RetentionDays int
	PurgeInterval time.Duration
}

type Neo4jConfig struct {
	Enabled  bool
	URI      string
	Username string
	Password string
	Database string
}

type RateLimitConfig struct {
	Enabled              bool
	MaxRequestsPerMinute int
	Burst                int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/product-discovery")

	v.SetEnvPrefix("DISCOVERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		problems = append(problems, "server.port must be between 1 and 65535")
	}
	if c.Search.DefaultLimit <= 0 || c.Search.MaxLimit < c.Search.DefaultLimit {
		problems = append(problems, "search.defaultLimit must be positive and not exceed search.maxLimit")
	}
	if c.Recommend.DefaultLimit <= 0 || c.Recommend.MaxLimit < c.Recommend.DefaultLimit {
		problems = append(problems, "recommend.defaultLimit must be positive and not exceed recommend.maxLimit")
	}
	if c.Similarity.TopK <= 0 {
		problems = append(problems, "similarity.topK must be positive")
	}
	if c.Similarity.MinScore < 0 || c.Similarity.MinScore > 1 {
		problems = append(problems, "similarity.minScore must be within [0,1]")
	}
	if c.Similarity.MaxFeatures <= 0 {
		problems = append(problems, "similarity.maxFeatures must be positive")
	}
	if c.Similarity.Store != "sqlite" && c.Similarity.Store != "memory" {
		problems = append(problems, "similarity.store must be sqlite or memory")
	}
	if c.Events.RetentionDays <= 0 {
		problems = append(problems, "events.retentionDays must be positive")
	}
	if c.Cache.OpTimeoutMs <= 0 {
		problems = append(problems, "cache.opTimeoutMs must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c CacheConfig) OpTimeout() time.Duration {
	return time.Duration(c.OpTimeoutMs) * time.Millisecond
}

// TTLOverrides converts the configured seconds into durations.
func (c CacheConfig) TTLOverrides() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.TTL))
	for ns, secs := range c.TTL {
		if secs > 0 {
			out[ns] = time.Duration(secs) * time.Second
		}
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 15)
	v.SetDefault("server.writeTimeout", 15)
	v.SetDefault("server.bodyLimit", 1048576)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.development", false)

	v.SetDefault("sqlite.path", "./data/discovery.db")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("cache.opTimeoutMs", 150)
	v.SetDefault("cache.sweepInterval", "1m")

	v.SetDefault("search.defaultLimit", 20)
	v.SetDefault("search.maxLimit", 50)
	v.SetDefault("search.maxQueryLength", 255)
	v.SetDefault("search.fullTextEnabled", true)
	v.SetDefault("search.nameBoost", 2.5)
	v.SetDefault("search.descriptionBoost", 1.0)

	v.SetDefault("similarity.store", "sqlite")
	v.SetDefault("similarity.topK", 10)
	v.SetDefault("similarity.minScore", 0.1)
	v.SetDefault("similarity.maxFeatures", 1000)
	v.SetDefault("similarity.workers", 4)
	v.SetDefault("similarity.interval", "24h")
	v.SetDefault("similarity.runOnStartup", true)

	v.SetDefault("recommend.defaultLimit", 5)
	v.SetDefault("recommend.maxLimit", 50)

	v.SetDefault("events.bufferSize", 4096)
	v.SetDefault("events.batchSize", 256)
	v.SetDefault("events.flushInterval", "2s")
	v.SetDefault("events.retentionDays", 90)
	v.SetDefault("events.purgeInterval", "720h")

	v.SetDefault("neo4j.enabled", false)
	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.maxRequestsPerMinute", 600)
	v.SetDefault("ratelimit.burst", 50)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
