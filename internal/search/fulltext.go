package search

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"
	_ "github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"go.uber.org/zap"

	"github.com/product-discovery/backend/internal/similarity"
	"github.com/product-discovery/backend/internal/storage/models"
	"github.com/product-discovery/backend/pkg/utils"
)

// Ranker scores products against a free-text query. Products absent from the
// result did not match.
type Ranker interface {
	Rank(ctx context.Context, text string, products []models.Product) (map[int64]float64, error)
}

// FullTextIndex is an in-memory bleve index over product names and
// descriptions. It resyncs lazily against the product set it is asked to rank.
type FullTextIndex struct {
	index            bleve.Index
	nameBoost        float64
	descriptionBoost float64
	log              *zap.Logger

	mu           sync.Mutex
	fingerprints map[int64]string
}

func NewFullTextIndex(nameBoost, descriptionBoost float64, log *zap.Logger) (*FullTextIndex, error) {
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}
	if nameBoost <= 0 {
		nameBoost = 2.5
	}
	if descriptionBoost <= 0 {
		descriptionBoost = 1.0
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &FullTextIndex{
		index:            index,
		nameBoost:        nameBoost,
		descriptionBoost: descriptionBoost,
		log:              log,
		fingerprints:     make(map[int64]string),
	}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	productMapping := bleve.NewDocumentMapping()
	productMapping.AddFieldMappingsAt("name", bleve.NewTextFieldMapping())
	productMapping.AddFieldMappingsAt("description", bleve.NewTextFieldMapping())

	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = "en"
	indexMapping.AddDocumentMapping("_default", productMapping)
	return indexMapping
}

func (f *FullTextIndex) Close() error {
	return f.index.Close()
}

// Rank syncs the index with products, then scores them. Name matches carry
// nameBoost, description matches descriptionBoost.
func (f *FullTextIndex) Rank(ctx context.Context, text string, products []models.Product) (map[int64]float64, error) {
	if err := f.sync(products); err != nil {
		return nil, err
	}

	nameQuery := bleve.NewMatchQuery(text)
	nameQuery.SetField("name")
	nameQuery.SetOperator(query.MatchQueryOperatorAnd)
	nameQuery.SetBoost(f.nameBoost)

	descQuery := bleve.NewMatchQuery(text)
	descQuery.SetField("description")
	descQuery.SetOperator(query.MatchQueryOperatorAnd)
	descQuery.SetBoost(f.descriptionBoost)

	size := len(products)
	if size == 0 {
		return map[int64]float64{}, nil
	}

	req := bleve.NewSearchRequestOptions(bleve.NewDisjunctionQuery(nameQuery, descQuery), size, 0, false)
	res, err := f.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("bleve search failed: %w", err)
	}

	scores := make(map[int64]float64, len(res.Hits))
	for _, hit := range res.Hits {
		id, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		scores[id] = hit.Score
	}
	return scores, nil
}

func (f *FullTextIndex) sync(products []models.Product) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	batch := f.index.NewBatch()
	seen := make(map[int64]struct{}, len(products))
	next := make(map[int64]string, len(products))

	for _, p := range products {
		seen[p.ID] = struct{}{}
		description := similarity.PlainText(p.Description)
		fp := utils.HashString(p.Name + "\x00" + description)
		next[p.ID] = fp
		if f.fingerprints[p.ID] == fp {
			continue
		}
		doc := map[string]any{"name": p.Name, "description": description}
		if err := batch.Index(strconv.FormatInt(p.ID, 10), doc); err != nil {
			return fmt.Errorf("failed to index product %d: %w", p.ID, err)
		}
	}

	for id := range f.fingerprints {
		if _, ok := seen[id]; !ok {
			batch.Delete(strconv.FormatInt(id, 10))
		}
	}

	if batch.Size() == 0 {
		return nil
	}
	if err := f.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to sync full-text index: %w", err)
	}

	f.fingerprints = next
	f.log.Debug("Full-text index synced", zap.Int("documents", len(next)))
	return nil
}
