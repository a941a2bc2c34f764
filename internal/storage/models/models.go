package models

import "time"

type Category struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description,omitempty"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

type Product struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Slug          string    `json:"slug"`
	Description   string    `json:"description"`
	CategoryID    int64     `json:"category_id"`
	Price         float64   `json:"price"`
	DiscountPrice *float64  `json:"discount_price,omitempty"`
	Stock         int       `json:"stock"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (p *Product) InStock() bool {
	return p.Stock > 0
}

type Review struct {
	ID        int64
	ProductID int64
	UserID    string
	Rating    int
	Comment   string
	CreatedAt time.Time
}

// SimilarityEdge links an anchor product to one of its most similar products.
type SimilarityEdge struct {
	ProductA    int64     `json:"product_a"`
	ProductB    int64     `json:"product_b"`
	Score       float64   `json:"score"`
	LastUpdated time.Time `json:"last_updated"`
}

type SearchQueryLog struct {
	ID          string
	UserID      string
	SessionID   string
	QueryText   string
	ResultCount int
	CreatedAt   time.Time
}

type EventType string

const (
	EventImpression EventType = "impression"
	EventClick      EventType = "click"
)

type RecommendationEvent struct {
	ID        string
	UserID    string
	SessionID string
	ProductID int64
	EventType EventType
	Source    string
	Position  int
	CreatedAt time.Time
}

type ProductView struct {
	ID               string
	ProductID        int64
	UserID           string
	SessionID        string
	ViewedFromSearch bool
	ViewedAt         time.Time
}

// Caller identifies who issued a request. Both fields may be empty.
type Caller struct {
	UserID    string
	SessionID string
}

func (c Caller) Identified() bool {
	return c.UserID != "" || c.SessionID != ""
}

// ProductPage is one page of an ordered product list.
type ProductPage struct {
	Results []Product `json:"results"`
	Total   int       `json:"total"`
	Page    int       `json:"page"`
	Limit   int       `json:"limit"`
	Pages   int       `json:"pages"`
}

// Paginate slices ranked into the 1-based page. A page past the end is empty
// but still reports the full total.
func Paginate(ranked []Product, page, limit int) ProductPage {
	total := len(ranked)
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}

	results := []Product{}
	// page is compared against pages before multiplying so huge pages cannot
	// overflow back onto the first page.
	if limit > 0 && page >= 1 && page <= pages {
		start := (page - 1) * limit
		end := start + limit
		if end > total {
			end = total
		}
		results = append(results, ranked[start:end]...)
	}

	return ProductPage{
		Results: results,
		Total:   total,
		Page:    page,
		Limit:   limit,
		Pages:   pages,
	}
}

// PurgeCounts reports telemetry rows removed by a retention pass.
type PurgeCounts struct {
	SearchQueries        int64
	ProductViews         int64
	RecommendationEvents int64
}

// RecommendationEventCount aggregates events by source, position and type.
type RecommendationEventCount struct {
	Source    string
	Position  int
	EventType EventType
	Count     int64
}

type QueryCount struct {
	QueryText  string  `json:"query"`
	Count      int64   `json:"count"`
	AvgResults float64 `json:"avg_results"`
}
