package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/product-discovery/backend/internal/storage/models"
	"github.com/product-discovery/backend/pkg/apperr"
	"github.com/product-discovery/backend/pkg/logger"
)

const productColumns = `id, name, slug, description, category_id, price, discount_price, stock, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (models.Product, error) {
	var p models.Product
	var description sql.NullString
	var discount sql.NullFloat64
	var active int
	var createdAt, updatedAt int64

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Slug,
		&description,
		&p.CategoryID,
		&p.Price,
		&discount,
		&p.Stock,
		&active,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return p, err
	}

	p.Description = description.String
	if discount.Valid {
		d := discount.Float64
		p.DiscountPrice = &d
	}
	p.IsActive = active == 1
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()

	return p, nil
}

func (c *Client) GetActiveProducts(ctx context.Context) ([]models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE is_active = 1 ORDER BY id`

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get active products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		products = append(products, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}

	return products, nil
}

func (c *Client) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE id = ?`

	p, err := scanProduct(c.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("product", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get product: %w", err)
	}

	return &p, nil
}

func (c *Client) GetCategoryByID(ctx context.Context, id int64) (*models.Category, error) {
	query := `SELECT id, name, slug, description, is_active, created_at FROM categories WHERE id = ?`

	var cat models.Category
	var description sql.NullString
	var active int
	var createdAt int64

	err := c.db.QueryRowContext(ctx, query, id).Scan(&cat.ID, &cat.Name, &cat.Slug, &description, &active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("category", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}

	cat.Description = description.String
	cat.IsActive = active == 1
	cat.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &cat, nil
}

// GetCategoryNames returns every category's name keyed by id.
func (c *Client) GetCategoryNames(ctx context.Context) (map[int64]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT id, name FROM categories`)
	if err != nil {
		return nil, fmt.Errorf("failed to get category names: %w", err)
	}
	defer rows.Close()

	names := make(map[int64]string)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		names[id] = name
	}

	return names, rows.Err()
}

func (c *Client) GetAggregateRating(ctx context.Context, productID int64) (float64, bool, error) {
	var avg sql.NullFloat64

	err := c.db.QueryRowContext(ctx, `SELECT AVG(rating) FROM reviews WHERE product_id = ?`, productID).Scan(&avg)
	if err != nil {
		return 0, false, fmt.Errorf("failed to get aggregate rating: %w", err)
	}

	return avg.Float64, avg.Valid, nil
}

func (c *Client) GetAggregateRatings(ctx context.Context, productIDs []int64) (map[int64]float64, error) {
	ratings := make(map[int64]float64, len(productIDs))

	err := forEachIDChunk(productIDs, func(placeholders string, args []any) error {
		query := `SELECT product_id, AVG(rating) FROM reviews WHERE product_id IN (` + placeholders + `) GROUP BY product_id`

		rows, err := c.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("failed to get aggregate ratings: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id int64
			var avg float64
			if err := rows.Scan(&id, &avg); err != nil {
				return fmt.Errorf("failed to scan row: %w", err)
			}
			ratings[id] = avg
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return ratings, nil
}

func (c *Client) UpsertCategory(ctx context.Context, cat *models.Category) error {
	query := `
		INSERT INTO categories (id, name, slug, description, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			slug = excluded.slug,
			description = excluded.description,
			is_active = excluded.is_active
	`

	return c.withBusyRetry(ctx, "sqlite.upsert_category", func(ctx context.Context) error {
		_, err := c.db.ExecContext(ctx, query,
			cat.ID,
			cat.Name,
			cat.Slug,
			nullString(cat.Description),
			boolToInt(cat.IsActive),
			cat.CreatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert category: %w", err)
		}
		return nil
	})
}

func (c *Client) UpsertProduct(ctx context.Context, p *models.Product) error {
	query := `
		INSERT INTO products (` + productColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			slug = excluded.slug,
			description = excluded.description,
			category_id = excluded.category_id,
			price = excluded.price,
			discount_price = excluded.discount_price,
			stock = excluded.stock,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at
	`

	var discount sql.NullFloat64
	if p.DiscountPrice != nil {
		discount = sql.NullFloat64{Float64: *p.DiscountPrice, Valid: true}
	}

	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = p.CreatedAt
	}

	err := c.withBusyRetry(ctx, "sqlite.upsert_product", func(ctx context.Context) error {
		_, err := c.db.ExecContext(ctx, query,
			p.ID,
			p.Name,
			p.Slug,
			nullString(p.Description),
			p.CategoryID,
			p.Price,
			discount,
			p.Stock,
			boolToInt(p.IsActive),
			p.CreatedAt.Unix(),
			updatedAt.Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert product: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Debug("Product upserted", zap.Int64("product_id", p.ID), zap.String("name", p.Name))
	return nil
}

func (c *Client) InsertReview(ctx context.Context, r *models.Review) error {
	query := `INSERT INTO reviews (product_id, user_id, rating, comment, created_at) VALUES (?, ?, ?, ?, ?)`

	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return c.withBusyRetry(ctx, "sqlite.insert_review", func(ctx context.Context) error {
		res, err := c.db.ExecContext(ctx, query, r.ProductID, nullString(r.UserID), r.Rating, nullString(r.Comment), createdAt.Unix())
		if err != nil {
			return fmt.Errorf("failed to insert review: %w", err)
		}
		if id, err := res.LastInsertId(); err == nil {
			r.ID = id
		}
		return nil
	})
}

// SeedData is the fixture file layout accepted by LoadSeedFile.
type SeedData struct {
	Categories []models.Category `json:"categories"`
	Products   []models.Product  `json:"products"`
	Reviews    []SeedReview      `json:"reviews"`
}

type SeedReview struct {
	ProductID int64  `json:"product_id"`
	UserID    string `json:"user_id"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
}

// LoadSeedFile upserts the catalog fixture at path. Reviews are appended.
func (c *Client) LoadSeedFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read seed file: %w", err)
	}

	var seed SeedData
	if err := json.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("failed to parse seed file: %w", err)
	}

	return c.LoadSeed(ctx, &seed)
}

func (c *Client) LoadSeed(ctx context.Context, seed *SeedData) error {
	now := time.Now()

	for i := range seed.Categories {
		cat := seed.Categories[i]
		if cat.CreatedAt.IsZero() {
			cat.CreatedAt = now
		}
		if err := c.UpsertCategory(ctx, &cat); err != nil {
			return err
		}
	}

	for i := range seed.Products {
		p := seed.Products[i]
		if p.CreatedAt.IsZero() {
			p.CreatedAt = now
		}
		if err := c.UpsertProduct(ctx, &p); err != nil {
			return err
		}
	}

	for _, r := range seed.Reviews {
		review := models.Review{ProductID: r.ProductID, UserID: r.UserID, Rating: r.Rating, Comment: r.Comment}
		if err := c.InsertReview(ctx, &review); err != nil {
			return err
		}
	}

	logger.Info("Catalog seed loaded",
		zap.Int("categories", len(seed.Categories)),
		zap.Int("products", len(seed.Products)),
		zap.Int("reviews", len(seed.Reviews)),
	)
	return nil
}
