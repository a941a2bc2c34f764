package events

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/product-discovery/backend/internal/storage/models"
	"github.com/product-discovery/backend/pkg/apperr"
)

type AnalyticsStore interface {
	CountRecommendationEvents(ctx context.Context, since time.Time) ([]models.RecommendationEventCount, error)
	TopSearchQueries(ctx context.Context, since time.Time, limit int) ([]models.QueryCount, error)
}

// Funnel is impressions, clicks and click-through rate for one slice.
type Funnel struct {
	Impressions int64   `json:"impressions"`
	Clicks      int64   `json:"clicks"`
	CTR         float64 `json:"ctr"`
}

type PositionFunnel struct {
	Position int `json:"position"`
	Funnel
}

type SourceFunnel struct {
	Source string `json:"source"`
	Funnel
	Positions []PositionFunnel `json:"positions"`
}

type RecommendationReport struct {
	Since   time.Time      `json:"since"`
	Total   Funnel         `json:"total"`
	Sources []SourceFunnel `json:"sources"`
}

type Analytics struct {
	store AnalyticsStore
	now   func() time.Time
}

func NewAnalytics(store AnalyticsStore) *Analytics {
	return &Analytics{store: store, now: time.Now}
}

func validateDays(days int) error {
	if days < 1 || days > 365 {
		return apperr.Invalid("days", "must be between 1 and 365")
	}
	return nil
}

// Recommendations aggregates the last days of recommendation events.
func (a *Analytics) Recommendations(ctx context.Context, days int) (*RecommendationReport, error) {
	if err := validateDays(days); err != nil {
		return nil, err
	}

	since := a.now().AddDate(0, 0, -days)
	counts, err := a.store.CountRecommendationEvents(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load recommendation events: %w", err)
	}

	report := &RecommendationReport{Since: since, Sources: []SourceFunnel{}}
	bySource := make(map[string]*SourceFunnel)
	byPosition := make(map[string]map[int]*PositionFunnel)

	for _, c := range counts {
		sf, ok := bySource[c.Source]
		if !ok {
			sf = &SourceFunnel{Source: c.Source}
			bySource[c.Source] = sf
			byPosition[c.Source] = make(map[int]*PositionFunnel)
		}
		pf, ok := byPosition[c.Source][c.Position]
		if !ok {
			pf = &PositionFunnel{Position: c.Position}
			byPosition[c.Source][c.Position] = pf
		}

		switch c.EventType {
		case models.EventImpression:
			sf.Impressions += c.Count
			pf.Impressions += c.Count
			report.Total.Impressions += c.Count
		case models.EventClick:
			sf.Clicks += c.Count
			pf.Clicks += c.Count
			report.Total.Clicks += c.Count
		}
	}

	for source, sf := range bySource {
		for _, pf := range byPosition[source] {
			pf.CTR = ctr(pf.Funnel)
			sf.Positions = append(sf.Positions, *pf)
		}
		sort.Slice(sf.Positions, func(i, j int) bool { return sf.Positions[i].Position < sf.Positions[j].Position })
		sf.CTR = ctr(sf.Funnel)
		report.Sources = append(report.Sources, *sf)
	}
	sort.Slice(report.Sources, func(i, j int) bool { return report.Sources[i].Source < report.Sources[j].Source })
	report.Total.CTR = ctr(report.Total)

	return report, nil
}

// TopQueries lists the most frequent search texts of the last days.
func (a *Analytics) TopQueries(ctx context.Context, days, limit int) ([]models.QueryCount, error) {
	if err := validateDays(days); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 100 {
		return nil, apperr.Invalid("limit", "must be between 1 and 100")
	}

	out, err := a.store.TopSearchQueries(ctx, a.now().AddDate(0, 0, -days), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load top queries: %w", err)
	}
	if out == nil {
		out = []models.QueryCount{}
	}
	return out, nil
}

func ctr(f Funnel) float64 {
	if f.Impressions == 0 {
		return 0
	}
	return float64(f.Clicks) / float64(f.Impressions)
}
