// Package similarity precomputes a content-based similarity graph over the
// active catalog. Each run builds a complete generation of edges offline and
// swaps it into the edge store in one step.
package similarity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/product-discovery/backend/internal/catalog"
	"github.com/product-discovery/backend/internal/metrics"
	"github.com/product-discovery/backend/internal/storage/models"
	"github.com/product-discovery/backend/pkg/apperr"
)

// ErrRunInProgress is returned when a run is triggered while another holds the run lock.
var ErrRunInProgress = errors.New("similarity run already in progress")

// Publisher is told about every generation after it becomes active.
// Publisher failures are logged and never undo the swap.
type Publisher interface {
	PublishGeneration(ctx context.Context, generation int64, edges []models.SimilarityEdge) error
}

type Config struct {
	TopK        int
	MinScore    float64
	MaxFeatures int
	Workers     int
}

func DefaultConfig() Config {
	return Config{TopK: 10, MinScore: 0.1, MaxFeatures: 1000, Workers: 4}
}

// Report summarises one run. Skipped runs leave Generation at zero.
type Report struct {
	RunID      string        `json:"run_id"`
	Generation int64         `json:"generation"`
	Products   int           `json:"products"`
	Edges      int           `json:"edges"`
	Skipped    bool          `json:"skipped"`
	Duration   time.Duration `json:"duration"`
}

type Job struct {
	reader     catalog.Reader
	store      EdgeStore
	cfg        Config
	vectorizer Vectorizer
	publishers []Publisher
	log        *zap.Logger
	now        func() time.Time

	running sync.Mutex
}

func NewJob(reader catalog.Reader, store EdgeStore, cfg Config, log *zap.Logger, publishers ...Publisher) *Job {
	def := DefaultConfig()
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.MaxFeatures <= 0 {
		cfg.MaxFeatures = def.MaxFeatures
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Job{
		reader:     reader,
		store:      store,
		cfg:        cfg,
		vectorizer: Vectorizer{MaxFeatures: cfg.MaxFeatures},
		publishers: publishers,
		log:        log,
		now:        time.Now,
	}
}

func (j *Job) Name() string { return "similarity-precompute" }

// Run lets the job be driven by the scheduler.
func (j *Job) Run(ctx context.Context) error {
	_, err := j.RunOnce(ctx)
	return err
}

// RunOnce computes a fresh generation and swaps it in. A failure at any step
// before the swap leaves the current generation untouched.
func (j *Job) RunOnce(ctx context.Context) (*Report, error) {
	if !j.running.TryLock() {
		metrics.SimilarityRuns.WithLabelValues("busy").Inc()
		return nil, ErrRunInProgress
	}
	defer j.running.Unlock()

	runID := uuid.New().String()
	start := j.now()
	report, err := j.run(ctx)
	elapsed := j.now().Sub(start)

	if err != nil {
		metrics.SimilarityRuns.WithLabelValues("failed").Inc()
		j.log.Error("Similarity run failed, keeping previous generation",
			zap.String("run_id", runID),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, err
	}

	report.RunID = runID
	report.Duration = elapsed
	metrics.SimilarityDuration.Observe(elapsed.Seconds())
	if report.Skipped {
		metrics.SimilarityRuns.WithLabelValues("skipped").Inc()
		j.log.Info("Similarity run skipped, not enough active products", zap.Int("products", report.Products))
		return report, nil
	}

	metrics.SimilarityRuns.WithLabelValues("success").Inc()
	metrics.SimilarityEdges.Set(float64(report.Edges))
	j.log.Info("Similarity run completed",
		zap.String("run_id", runID),
		zap.Int64("generation", report.Generation),
		zap.Int("products", report.Products),
		zap.Int("edges", report.Edges),
		zap.Duration("elapsed", elapsed),
	)
	return report, nil
}

func (j *Job) run(ctx context.Context) (*Report, error) {
	products, err := j.reader.GetActiveProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active products: %w", err)
	}

	report := &Report{Products: len(products)}
	if len(products) < 2 {
		report.Skipped = true
		return report, nil
	}

	edges, err := j.Compute(ctx, products)
	if err != nil {
		return nil, err
	}

	generation, err := j.store.ReplaceEdges(ctx, edges)
	if err != nil {
		return nil, fmt.Errorf("failed to swap similarity generation: %w", err)
	}
	report.Generation = generation
	report.Edges = len(edges)

	for _, p := range j.publishers {
		if err := p.PublishGeneration(ctx, generation, edges); err != nil {
			j.log.Warn("Similarity publisher failed", zap.Int64("generation", generation), zap.Error(err))
		}
	}

	return report, nil
}

// Compute builds the edge set for products without touching the store.
// Output order is anchor id ascending, then score descending.
func (j *Job) Compute(ctx context.Context, products []models.Product) ([]models.SimilarityEdge, error) {
	ordered := make([]models.Product, len(products))
	copy(ordered, products)
	sortByID(ordered)

	categoryNames, err := j.categoryNames(ctx, ordered)
	if err != nil {
		return nil, err
	}

	docs := make([]string, len(ordered))
	for i, p := range ordered {
		docs[i] = BuildDocument(p.ID, p.Name, p.Description, categoryNames[p.CategoryID]).Text
	}

	vectors, vocab, err := j.vectorizer.FitTransform(docs)
	if err != nil {
		return nil, fmt.Errorf("failed to vectorize catalog: %w", err)
	}
	j.log.Debug("Catalog vectorized", zap.Int("documents", len(docs)), zap.Int("vocabulary", len(vocab)))

	ids := catalog.ProductIDs(ordered)
	neighbors, err := TopNeighbors(ctx, vectors, ids, j.cfg.TopK, j.cfg.MinScore, j.cfg.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to compute similarity matrix: %w", err)
	}

	stamp := j.now().UTC().Truncate(time.Second)
	var edges []models.SimilarityEdge
	for i, row := range neighbors {
		for _, n := range row {
			edges = append(edges, models.SimilarityEdge{
				ProductA:    ids[i],
				ProductB:    ids[n.Index],
				Score:       n.Score,
				LastUpdated: stamp,
			})
		}
	}
	return edges, nil
}

func (j *Job) categoryNames(ctx context.Context, products []models.Product) (map[int64]string, error) {
	names := make(map[int64]string)
	for _, p := range products {
		if _, seen := names[p.CategoryID]; seen {
			continue
		}
		cat, err := j.reader.GetCategoryByID(ctx, p.CategoryID)
		if err != nil {
			if apperr.IsNotFound(err) {
				names[p.CategoryID] = ""
				continue
			}
			return nil, fmt.Errorf("failed to load category %d: %w", p.CategoryID, err)
		}
		names[p.CategoryID] = cat.Name
	}
	return names, nil
}

func sortByID(products []models.Product) {
	sort.Slice(products, func(i, k int) bool { return products[i].ID < products[k].ID })
}
