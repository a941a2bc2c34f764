package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingTask struct {
	runs atomic.Int32
	err  error
}

func (c *countingTask) Name() string { return "counting" }

func (c *countingTask) Run(ctx context.Context) error {
	c.runs.Add(1)
	return c.err
}

func TestSchedulerRunsOnStartAndInterval(t *testing.T) {
	task := &countingTask{}
	s := New(nil)
	s.Every(task, 20*time.Millisecond, true)
	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool { return task.runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestSchedulerKeepsRunningAfterFailure(t *testing.T) {
	task := &countingTask{err: errors.New("boom")}
	s := New(nil)
	s.Every(task, 10*time.Millisecond, false)
	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool { return task.runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
}

func TestSchedulerStopHaltsTasks(t *testing.T) {
	task := &countingTask{}
	s := New(nil)
	s.Every(task, time.Hour, true)
	s.Every(&countingTask{}, 0, true)
	s.Start(context.Background())

	assert.Eventually(t, func() bool { return task.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(1), task.runs.Load())
}
