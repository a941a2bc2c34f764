// Package neo4j mirrors the active similarity generation into a Neo4j graph
// for exploration and offline analysis. The mirror is never read by the
// request path; the edge store stays the source of truth.
package neo4j

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/product-discovery/backend/internal/storage/models"
	"github.com/product-discovery/backend/pkg/circuitbreaker"
	"github.com/product-discovery/backend/pkg/logger"
	"github.com/product-discovery/backend/pkg/retry"
)

const batchSize = 500

type Mirror struct {
	driver      neo4j.DriverWithContext
	database    string
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

// Neighbor is a mirrored SIMILAR_TO relationship seen from its anchor.
type Neighbor struct {
	ProductID  int64   `json:"product_id"`
	Score      float64 `json:"score"`
	Generation int64   `json:"generation"`
}

func NewMirror(uri, username, password, database string) (*Mirror, error) {
	driver, err := neo4j.NewDriverWithContext(
		uri,
		neo4j.BasicAuth(username, password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("failed to verify connectivity: %w", err)
	}

	cb := circuitbreaker.NewCircuitBreaker("neo4j", circuitbreaker.Config{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 3,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.Config{
		Name:           "neo4j.publish_generation",
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       3 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.1,
		Logger:         logger.GetLogger(),
	}

	logger.Info("Neo4j similarity mirror initialized", zap.String("uri", uri))

	return &Mirror{
		driver:      driver,
		database:    database,
		cb:          cb,
		retryConfig: retryConfig,
	}, nil
}

func (m *Mirror) Close(ctx context.Context) error {
	return m.driver.Close(ctx)
}

// PublishGeneration writes the generation's edges and then removes every
// relationship from older generations.
func (m *Mirror) PublishGeneration(ctx context.Context, generation int64, edges []models.SimilarityEdge) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	return m.cb.Execute(func() error {
		return retry.Do(ctx, m.retryConfig, func(ctx context.Context) error {
			session := m.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: m.database})
			defer session.Close(ctx)

			for start := 0; start < len(edges); start += batchSize {
				end := start + batchSize
				if end > len(edges) {
					end = len(edges)
				}
				if err := m.writeBatch(ctx, session, generation, edges[start:end]); err != nil {
					return err
				}
			}

			_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
				result, err := tx.Run(ctx, `
					MATCH (:Product)-[r:SIMILAR_TO]->(:Product)
					WHERE r.generation <> $generation
					DELETE r
				`, map[string]any{"generation": generation})
				if err != nil {
					return nil, err
				}
				return result.Consume(ctx)
			})
			if err != nil {
				return fmt.Errorf("failed to prune old generations: %w", err)
			}

			logger.Info("Similarity generation mirrored to Neo4j",
				zap.Int64("generation", generation),
				zap.Int("edges", len(edges)),
			)
			return nil
		})
	})
}

func (m *Mirror) writeBatch(ctx context.Context, session neo4j.SessionWithContext, generation int64, edges []models.SimilarityEdge) error {
	rows := make([]map[string]any, len(edges))
	for i, e := range edges {
		rows[i] = map[string]any{
			"a":       e.ProductA,
			"b":       e.ProductB,
			"score":   e.Score,
			"updated": e.LastUpdated.Unix(),
		}
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, `
			UNWIND $rows AS row
			MERGE (a:Product {id: row.a})
			MERGE (b:Product {id: row.b})
			MERGE (a)-[r:SIMILAR_TO]->(b)
			SET r.score = row.score,
			    r.last_updated = row.updated,
			    r.generation = $generation
		`, map[string]any{"rows": rows, "generation": generation})
		if err != nil {
			return nil, err
		}
		return result.Consume(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to write similarity batch: %w", err)
	}
	return nil
}

// Neighbors reads the mirrored relationships of one product, best first.
func (m *Mirror) Neighbors(ctx context.Context, productID int64, limit int) ([]Neighbor, error) {
	if limit <= 0 {
		limit = 10
	}

	var out []Neighbor
	err := m.cb.Execute(func() error {
		session := m.driver.NewSession(ctx, neo4j.SessionConfig{
			DatabaseName: m.database,
			AccessMode:   neo4j.AccessModeRead,
		})
		defer session.Close(ctx)

		records, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			result, err := tx.Run(ctx, `
				MATCH (:Product {id: $id})-[r:SIMILAR_TO]->(b:Product)
				RETURN b.id AS id, r.score AS score, r.generation AS generation
				ORDER BY r.score DESC, b.id ASC
				LIMIT $limit
			`, map[string]any{"id": productID, "limit": limit})
			if err != nil {
				return nil, err
			}
			return result.Collect(ctx)
		})
		if err != nil {
			return fmt.Errorf("failed to read similarity neighbors: %w", err)
		}

		for _, record := range records.([]*neo4j.Record) {
			id, _ := record.Get("id")
			score, _ := record.Get("score")
			gen, _ := record.Get("generation")

			n := Neighbor{}
			n.ProductID, _ = id.(int64)
			n.Score, _ = score.(float64)
			n.Generation, _ = gen.(int64)
			out = append(out, n)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}
