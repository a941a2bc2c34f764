// Package events records discovery telemetry: search query logs,
// recommendation impressions and clicks, and product views. Recording is
// fire-and-forget; nothing in the request path waits for or reads it back.
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/product-discovery/backend/internal/metrics"
	"github.com/product-discovery/backend/internal/storage/models"
)

// Sink persists telemetry in bulk. Each call is one bulk write.
type Sink interface {
	InsertSearchQueries(ctx context.Context, logs []models.SearchQueryLog) error
	InsertRecommendationEvents(ctx context.Context, events []models.RecommendationEvent) error
	InsertProductViews(ctx context.Context, views []models.ProductView) error
}

type kind string

const (
	kindSearch         kind = "search_query"
	kindRecommendation kind = "recommendation_event"
	kindView           kind = "product_view"
)

type item struct {
	kind     kind
	searches []models.SearchQueryLog
	events   []models.RecommendationEvent
	views    []models.ProductView
}

func (it item) size() int {
	return len(it.searches) + len(it.events) + len(it.views)
}

type Config struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
	Logger        *zap.Logger
}

// Recorder buffers telemetry and writes it from a single background goroutine.
type Recorder struct {
	sink          Sink
	queue         chan item
	batchSize     int
	flushInterval time.Duration
	writeTimeout  time.Duration
	log           *zap.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func NewRecorder(sink Sink, cfg Config) *Recorder {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	r := &Recorder{
		sink:          sink,
		queue:         make(chan item, cfg.BufferSize),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		writeTimeout:  cfg.WriteTimeout,
		log:           cfg.Logger,
		done:          make(chan struct{}),
	}
	go r.run()
	return r
}

// LogSearch appends a search query log row.
func (r *Recorder) LogSearch(ctx context.Context, entry models.SearchQueryLog) {
	r.enqueue(item{kind: kindSearch, searches: []models.SearchQueryLog{entry}})
}

// RecordImpressions enqueues one response's impressions; they are written
// together in a single bulk insert.
func (r *Recorder) RecordImpressions(ctx context.Context, batch []models.RecommendationEvent) {
	if len(batch) == 0 {
		return
	}
	r.enqueue(item{kind: kindRecommendation, events: batch})
}

func (r *Recorder) RecordClick(ctx context.Context, event models.RecommendationEvent) {
	r.enqueue(item{kind: kindRecommendation, events: []models.RecommendationEvent{event}})
}

func (r *Recorder) RecordView(ctx context.Context, view models.ProductView) {
	r.enqueue(item{kind: kindView, views: []models.ProductView{view}})
}

func (r *Recorder) enqueue(it item) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		metrics.EventsDropped.WithLabelValues(string(it.kind), "closed").Add(float64(it.size()))
		return
	}

	select {
	case r.queue <- it:
	default:
		metrics.EventsDropped.WithLabelValues(string(it.kind), "buffer_full").Add(float64(it.size()))
		r.log.Warn("Telemetry buffer full, dropping events",
			zap.String("kind", string(it.kind)),
			zap.Int("count", it.size()),
		)
	}
}

// Close stops accepting events and blocks until everything buffered is written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	var pending batch
	for {
		select {
		case it, ok := <-r.queue:
			if !ok {
				r.flush(&pending)
				return
			}
			pending.add(it)
			if pending.size() >= r.batchSize {
				r.flush(&pending)
			}
		case <-ticker.C:
			r.flush(&pending)
		}
	}
}

type batch struct {
	searches []models.SearchQueryLog
	events   []models.RecommendationEvent
	views    []models.ProductView
}

func (b *batch) add(it item) {
	b.searches = append(b.searches, it.searches...)
	b.events = append(b.events, it.events...)
	b.views = append(b.views, it.views...)
}

func (b *batch) size() int {
	return len(b.searches) + len(b.events) + len(b.views)
}

func (r *Recorder) flush(b *batch) {
	if b.size() == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
	defer cancel()

	if len(b.searches) > 0 {
		r.write(kindSearch, len(b.searches), r.sink.InsertSearchQueries(ctx, b.searches))
	}
	if len(b.events) > 0 {
		r.write(kindRecommendation, len(b.events), r.sink.InsertRecommendationEvents(ctx, b.events))
	}
	if len(b.views) > 0 {
		r.write(kindView, len(b.views), r.sink.InsertProductViews(ctx, b.views))
	}

	*b = batch{}
}

func (r *Recorder) write(k kind, n int, err error) {
	if err != nil {
		metrics.EventsDropped.WithLabelValues(string(k), "write_error").Add(float64(n))
		r.log.Error("Failed to write telemetry", zap.String("kind", string(k)), zap.Int("count", n), zap.Error(err))
		return
	}
	metrics.EventsWritten.WithLabelValues(string(k)).Add(float64(n))
}
