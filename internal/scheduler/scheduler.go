// Package scheduler runs background maintenance tasks on fixed intervals.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one unit of background work. A failing run is logged and retried
// at the next tick.
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

type entry struct {
	task     Task
	interval time.Duration
	runNow   bool
}

type Scheduler struct {
	entries []entry
	log     *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{log: log}
}

// Every registers task to run each interval. With runNow it also runs once
// right after Start.
func (s *Scheduler) Every(task Task, interval time.Duration, runNow bool) {
	s.entries = append(s.entries, entry{task: task, interval: interval, runNow: runNow})
}

func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	for _, e := range s.entries {
		if e.interval <= 0 {
			s.log.Warn("Skipping task with non-positive interval", zap.String("task", e.task.Name()))
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, e)
	}
}

func (s *Scheduler) loop(ctx context.Context, e entry) {
	defer s.wg.Done()

	if e.runNow {
		s.runTask(ctx, e.task)
	}

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runTask(ctx, e.task)
		}
	}
}

func (s *Scheduler) runTask(ctx context.Context, task Task) {
	start := time.Now()
	if err := task.Run(ctx); err != nil {
		s.log.Error("Scheduled task failed",
			zap.String("task", task.Name()),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return
	}
	s.log.Debug("Scheduled task finished",
		zap.String("task", task.Name()),
		zap.Duration("elapsed", time.Since(start)),
	)
}

// Stop cancels every loop and waits for in-flight runs to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
