package sqlite

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/product-discovery/backend/internal/storage/models"
	"github.com/product-discovery/backend/pkg/logger"
)

// bulkInsert writes every row inside one transaction through a single
// prepared statement.
func (c *Client) bulkInsert(ctx context.Context, name, query string, n int, args func(i int) []any) error {
	return c.withBusyRetry(ctx, name, func(ctx context.Context) error {
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for i := 0; i < n; i++ {
			if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
				return fmt.Errorf("failed to insert row: %w", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}

func (c *Client) InsertSearchQueries(ctx context.Context, logs []models.SearchQueryLog) error {
	query := `INSERT INTO search_queries (id, user_id, session_id, query_text, result_count, created_at) VALUES (?, ?, ?, ?, ?, ?)`

	err := c.bulkInsert(ctx, "sqlite.insert_search_queries", query, len(logs), func(i int) []any {
		l := logs[i]
		return []any{l.ID, nullString(l.UserID), nullString(l.SessionID), l.QueryText, l.ResultCount, l.CreatedAt.Unix()}
	})
	if err != nil {
		return fmt.Errorf("failed to insert search queries: %w", err)
	}

	logger.Debug("Search queries recorded", zap.Int("count", len(logs)))
	return nil
}

func (c *Client) InsertRecommendationEvents(ctx context.Context, events []models.RecommendationEvent) error {
	query := `
		INSERT INTO recommendation_events (id, user_id, session_id, product_id, event_type, source, position, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := c.bulkInsert(ctx, "sqlite.insert_recommendation_events", query, len(events), func(i int) []any {
		e := events[i]
		return []any{e.ID, nullString(e.UserID), nullString(e.SessionID), e.ProductID, string(e.EventType), e.Source, e.Position, e.CreatedAt.Unix()}
	})
	if err != nil {
		return fmt.Errorf("failed to insert recommendation events: %w", err)
	}

	logger.Debug("Recommendation events recorded", zap.Int("count", len(events)))
	return nil
}

func (c *Client) InsertProductViews(ctx context.Context, views []models.ProductView) error {
	query := `INSERT INTO product_views (id, product_id, user_id, session_id, viewed_from_search, viewed_at) VALUES (?, ?, ?, ?, ?, ?)`

	err := c.bulkInsert(ctx, "sqlite.insert_product_views", query, len(views), func(i int) []any {
		v := views[i]
		return []any{v.ID, v.ProductID, nullString(v.UserID), nullString(v.SessionID), boolToInt(v.ViewedFromSearch), v.ViewedAt.Unix()}
	})
	if err != nil {
		return fmt.Errorf("failed to insert product views: %w", err)
	}

	return nil
}

// ViewCounts returns recorded views per product. Products never viewed are absent.
func (c *Client) ViewCounts(ctx context.Context, productIDs []int64) (map[int64]int64, error) {
	counts := make(map[int64]int64, len(productIDs))

	err := forEachIDChunk(productIDs, func(placeholders string, args []any) error {
		query := `SELECT product_id, COUNT(*) FROM product_views WHERE product_id IN (` + placeholders + `) GROUP BY product_id`

		rows, err := c.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to count product views: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id, n int64
			if err := rows.Scan(&id, &n); err != nil {
				return fmt.Errorf("failed to scan row: %w", err)
			}
			counts[id] = n
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return counts, nil
}

func (c *Client) PurgeEventsBefore(ctx context.Context, cutoff time.Time) (models.PurgeCounts, error) {
	var counts models.PurgeCounts

	err := c.withBusyRetry(ctx, "sqlite.purge_events", func(ctx context.Context) error {
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		purge := func(query string) (int64, error) {
			res, err := tx.ExecContext(ctx, query, cutoff.Unix())
			if err != nil {
				return 0, err
			}
			return res.RowsAffected()
		}

		if counts.SearchQueries, err = purge(`DELETE FROM search_queries WHERE created_at < ?`); err != nil {
			return fmt.Errorf("failed to purge search queries: %w", err)
		}
		if counts.ProductViews, err = purge(`DELETE FROM product_views WHERE viewed_at < ?`); err != nil {
			return fmt.Errorf("failed to purge product views: %w", err)
		}
		if counts.RecommendationEvents, err = purge(`DELETE FROM recommendation_events WHERE created_at < ?`); err != nil {
			return fmt.Errorf("failed to purge recommendation events: %w", err)
		}

		return tx.Commit()
	})

	return counts, err
}

// CountRecommendationEvents aggregates events created at or after since.
func (c *Client) CountRecommendationEvents(ctx context.Context, since time.Time) ([]models.RecommendationEventCount, error) {
	query := `
		SELECT source, position, event_type, COUNT(*)
		FROM recommendation_events
		WHERE created_at >= ?
		GROUP BY source, position, event_type
		ORDER BY source, position, event_type
	`

	rows, err := c.db.QueryContext(ctx, query, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to count recommendation events: %w", err)
	}
	defer rows.Close()

	var out []models.RecommendationEventCount
	for rows.Next() {
		var rc models.RecommendationEventCount
		var eventType string
		if err := rows.Scan(&rc.Source, &rc.Position, &eventType, &rc.Count); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rc.EventType = models.EventType(eventType)
		out = append(out, rc)
	}

	return out, rows.Err()
}

// TopSearchQueries returns the most frequent query texts logged at or after since.
func (c *Client) TopSearchQueries(ctx context.Context, since time.Time, limit int) ([]models.QueryCount, error) {
	query := `
		SELECT LOWER(TRIM(query_text)) AS q, COUNT(*) AS n, AVG(result_count)
		FROM search_queries
		WHERE created_at >= ?
		GROUP BY q
		ORDER BY n DESC, q
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, since.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top search queries: %w", err)
	}
	defer rows.Close()

	var out []models.QueryCount
	for rows.Next() {
		var qc models.QueryCount
		if err := rows.Scan(&qc.QueryText, &qc.Count, &qc.AvgResults); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, qc)
	}

	return out, rows.Err()
}
