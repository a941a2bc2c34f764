package cache

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Sweeper is a Store that can reclaim expired entries and stale tags.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// SweepTask runs a Sweeper from the background scheduler.
type SweepTask struct {
	store Sweeper
	log   *zap.Logger
}

func NewSweepTask(store Sweeper, log *zap.Logger) *SweepTask {
	if log == nil {
		log = zap.NewNop()
	}
	return &SweepTask{store: store, log: log}
}

func (t *SweepTask) Name() string { return "cache-sweep" }

func (t *SweepTask) Run(ctx context.Context) error {
	removed, err := t.store.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("failed to sweep cache: %w", err)
	}
	t.log.Debug("Cache swept", zap.Int("removed", removed))
	return nil
}
