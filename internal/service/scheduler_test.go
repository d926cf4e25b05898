package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type countingRunner struct {
	runs atomic.Int32
	err  error
}

func (r *countingRunner) Run(ctx context.Context) (*RunSummary, error) {
	r.runs.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return &RunSummary{}, nil
}

func TestScheduler_Ticks(t *testing.T) {
	runner := &countingRunner{err: ErrRunInProgress}
	s := NewScheduler(runner, 10*time.Millisecond, zap.NewNop())

	s.Start(context.Background())
	deadline := time.Now().Add(2 * time.Second)
	for runner.runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()

	if runner.runs.Load() < 3 {
		t.Errorf("Expected at least 3 runs, got %d", runner.runs.Load())
	}

	after := runner.runs.Load()
	time.Sleep(30 * time.Millisecond)
	if runner.runs.Load() != after {
		t.Error("Expected no runs after Stop")
	}
}

func TestScheduler_Disabled(t *testing.T) {
	runner := &countingRunner{}
	s := NewScheduler(runner, 0, zap.NewNop())

	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	if runner.runs.Load() != 0 {
		t.Errorf("Expected no runs, got %d", runner.runs.Load())
	}
}
