package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/product-discovery/backend/pkg/logger"
	"github.com/product-discovery/backend/pkg/retry"
)

type Client struct {
	db *sql.DB
}

// connParams apply to every pooled connection, not just the first one.
const connParams = "_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func dsn(dbPath string) string {
	if strings.Contains(dbPath, "?") {
		return dbPath + "&" + connParams
	}
	return dbPath + "?" + connParams
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS categories (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL,
		description TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS products (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL,
		description TEXT,
		category_id INTEGER NOT NULL,
		price REAL NOT NULL,
		discount_price REAL,
		stock INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (category_id) REFERENCES categories(id)
	);
	CREATE INDEX IF NOT EXISTS idx_products_category ON products(category_id);
	CREATE INDEX IF NOT EXISTS idx_products_active ON products(is_active);

	CREATE TABLE IF NOT EXISTS reviews (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		product_id INTEGER NOT NULL,
		user_id TEXT,
		rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
		comment TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (product_id) REFERENCES products(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_reviews_product ON reviews(product_id);

	CREATE TABLE IF NOT EXISTS similarity_edges (
		generation INTEGER NOT NULL,
		product_a INTEGER NOT NULL,
		product_b INTEGER NOT NULL,
		score REAL NOT NULL,
		last_updated INTEGER NOT NULL,
		PRIMARY KEY (generation, product_a, product_b),
		CHECK (product_a <> product_b)
	);
	CREATE INDEX IF NOT EXISTS idx_similarity_anchor ON similarity_edges(generation, product_a, score DESC);

	CREATE TABLE IF NOT EXISTS similarity_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		active_generation INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS search_queries (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		session_id TEXT,
		query_text TEXT NOT NULL,
		result_count INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_search_queries_created ON search_queries(created_at);

	CREATE TABLE IF NOT EXISTS recommendation_events (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		session_id TEXT,
		product_id INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		source TEXT NOT NULL,
		position INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_rec_events_created ON recommendation_events(created_at);
	CREATE INDEX IF NOT EXISTS idx_rec_events_source ON recommendation_events(source, event_type);

	CREATE TABLE IF NOT EXISTS product_views (
		id TEXT PRIMARY KEY,
		product_id INTEGER NOT NULL,
		user_id TEXT,
		session_id TEXT,
		viewed_from_search INTEGER NOT NULL DEFAULT 0,
		viewed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_product_views_product ON product_views(product_id);
	CREATE INDEX IF NOT EXISTS idx_product_views_viewed ON product_views(viewed_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

// withBusyRetry retries writes rejected because another connection holds the
// write lock.
func (c *Client) withBusyRetry(ctx context.Context, name string, op func(context.Context) error) error {
	cfg := retry.DefaultConfig()
	cfg.Name = name
	cfg.MaxAttempts = 5
	cfg.InitialDelay = 20 * time.Millisecond
	cfg.MaxDelay = time.Second
	cfg.Retryable = isBusy
	cfg.Logger = logger.GetLogger()
	return retry.Do(ctx, cfg, op)
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// idChunkSize keeps IN lists well under SQLite's host parameter limit.
const idChunkSize = 500

// forEachIDChunk calls fn once per slice of at most idChunkSize ids with the
// matching "?,?,..." placeholder list.
func forEachIDChunk(ids []int64, fn func(placeholders string, args []any) error) error {
	for start := 0; start < len(ids); start += idChunkSize {
		end := start + idChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")

		if err := fn(placeholders, args); err != nil {
			return err
		}
	}
	return nil
}
