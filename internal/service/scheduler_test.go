package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type countingImporter struct {
	runs atomic.Int32
}

func (c *countingImporter) RunFullImport(ctx context.Context) (*ImportResult, error) {
	c.runs.Add(1)
	return &ImportResult{}, nil
}

func TestSchedulerRunsInitialAndTriggeredImports(t *testing.T) {
	imp := &countingImporter{}
	s := NewScheduler(imp, 0, zap.NewNop())
	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool { return imp.runs.Load() == 1 }, time.Second, 5*time.Millisecond)

	s.Trigger()
	assert.Eventually(t, func() bool { return imp.runs.Load() == 2 }, time.Second, 5*time.Millisecond)
}

func TestSchedulerPollsOnInterval(t *testing.T) {
	imp := &countingImporter{}
	s := NewScheduler(imp, 10*time.Millisecond, zap.NewNop())
	s.Start(context.Background())

	assert.Eventually(t, func() bool { return imp.runs.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Stop()

	runs := imp.runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, runs, imp.runs.Load(), "no runs after Stop")
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	s := NewScheduler(&countingImporter{}, 0, zap.NewNop())
	s.Stop()
	s.Start(context.Background())
	s.Stop()
	s.Stop()
}

func TestSchedulerWithoutInitialRun(t *testing.T) {
	imp := &countingImporter{}
	s := NewScheduler(imp, 0, zap.NewNop()).WithInitialRun(false)
	s.Start(context.Background())
	defer s.Stop()

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), imp.runs.Load())

	s.Trigger()
	assert.Eventually(t, func() bool { return imp.runs.Load() == 1 }, time.Second, 5*time.Millisecond)
}
