package events

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/product-discovery/backend/internal/metrics"
	"github.com/product-discovery/backend/internal/storage/models"
)

// PurgeStore deletes telemetry older than a cutoff, reporting rows removed per table.
type PurgeStore interface {
	PurgeEventsBefore(ctx context.Context, cutoff time.Time) (models.PurgeCounts, error)
}

// Retention removes telemetry older than the configured window.
type Retention struct {
	store PurgeStore
	days  int
	now   func() time.Time
	log   *zap.Logger
}

func NewRetention(store PurgeStore, days int, log *zap.Logger) *Retention {
	if days <= 0 {
		days = 90
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Retention{store: store, days: days, now: time.Now, log: log}
}

func (r *Retention) Name() string { return "telemetry-retention" }

func (r *Retention) Run(ctx context.Context) error {
	cutoff := r.now().AddDate(0, 0, -r.days)

	counts, err := r.store.PurgeEventsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge telemetry: %w", err)
	}

	metrics.EventsPurged.WithLabelValues(string(kindSearch)).Add(float64(counts.SearchQueries))
	metrics.EventsPurged.WithLabelValues(string(kindView)).Add(float64(counts.ProductViews))
	metrics.EventsPurged.WithLabelValues(string(kindRecommendation)).Add(float64(counts.RecommendationEvents))

	r.log.Info("Cleaned old search data",
		zap.Time("cutoff", cutoff),
		zap.Int64("queries", counts.SearchQueries),
		zap.Int64("views", counts.ProductViews),
		zap.Int64("events", counts.RecommendationEvents),
	)
	return nil
}
