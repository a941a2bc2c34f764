package sqlite

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/product-discovery/backend/internal/storage/models"
	"github.com/product-discovery/backend/pkg/logger"
)

// ReplaceEdges writes edges as a new generation, points similarity_state at
// it and drops every older generation, all in one transaction. Readers see
// either the previous generation or the new one.
func (c *Client) ReplaceEdges(ctx context.Context, edges []models.SimilarityEdge) (int64, error) {
	var generation int64

	err := c.withBusyRetry(ctx, "sqlite.replace_similarity_edges", func(ctx context.Context) error {
		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		var current int64
		err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(active_generation), 0) FROM similarity_state`).Scan(&current)
		if err != nil {
			return fmt.Errorf("failed to read active generation: %w", err)
		}
		generation = current + 1

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO similarity_edges (generation, product_a, product_b, score, last_updated)
			VALUES (?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare edge insert: %w", err)
		}
		defer stmt.Close()

		for _, e := range edges {
			if _, err := stmt.ExecContext(ctx, generation, e.ProductA, e.ProductB, e.Score, e.LastUpdated.Unix()); err != nil {
				return fmt.Errorf("failed to insert edge %d->%d: %w", e.ProductA, e.ProductB, err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO similarity_state (id, active_generation, updated_at) VALUES (1, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				active_generation = excluded.active_generation,
				updated_at = excluded.updated_at
		`, generation, time.Now().Unix())
		if err != nil {
			return fmt.Errorf("failed to swap active generation: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM similarity_edges WHERE generation <> ?`, generation); err != nil {
			return fmt.Errorf("failed to discard old generations: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit similarity generation: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	logger.Info("Similarity generation activated",
		zap.Int64("generation", generation),
		zap.Int("edges", len(edges)),
	)
	return generation, nil
}

// Neighbors returns the active generation's edges anchored at productID whose
// target is an active product, best first. limit <= 0 returns all of them.
func (c *Client) Neighbors(ctx context.Context, productID int64, limit int) ([]models.SimilarityEdge, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT e.product_a, e.product_b, e.score, e.last_updated
		FROM similarity_edges e
		JOIN products p ON p.id = e.product_b AND p.is_active = 1
		WHERE e.generation = (SELECT active_generation FROM similarity_state WHERE id = 1)
			AND e.product_a = ?
		ORDER BY e.score DESC, e.product_b ASC
		LIMIT ?
	`

	rows, err := c.db.QueryContext(ctx, query, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get similarity neighbors: %w", err)
	}
	defer rows.Close()

	var edges []models.SimilarityEdge
	for rows.Next() {
		var e models.SimilarityEdge
		var updated int64
		if err := rows.Scan(&e.ProductA, &e.ProductB, &e.Score, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		e.LastUpdated = time.Unix(updated, 0).UTC()
		edges = append(edges, e)
	}

	return edges, rows.Err()
}

// ActiveGeneration returns 0 before the first successful run.
func (c *Client) ActiveGeneration(ctx context.Context) (int64, error) {
	var generation int64
	err := c.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(active_generation), 0) FROM similarity_state`).Scan(&generation)
	if err != nil {
		return 0, fmt.Errorf("failed to read active generation: %w", err)
	}
	return generation, nil
}

// ActiveEdges returns every edge of the active generation ordered by anchor,
// then score descending.
func (c *Client) ActiveEdges(ctx context.Context) ([]models.SimilarityEdge, error) {
	query := `
		SELECT product_a, product_b, score, last_updated
		FROM similarity_edges
		WHERE generation = (SELECT active_generation FROM similarity_state WHERE id = 1)
		ORDER BY product_a, score DESC, product_b
	`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get similarity edges: %w", err)
	}
	defer rows.Close()

	var edges []models.SimilarityEdge
	for rows.Next() {
		var e models.SimilarityEdge
		var updated int64
		if err := rows.Scan(&e.ProductA, &e.ProductB, &e.Score, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		e.LastUpdated = time.Unix(updated, 0).UTC()
		edges = append(edges, e)
	}

	return edges, rows.Err()
}
