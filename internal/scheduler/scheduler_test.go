package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

type countingRunner struct {
	sweeps      atomic.Int64
	regenerates atomic.Int64
}

func (c *countingRunner) SweepExpirations(ctx context.Context) int {
	c.sweeps.Add(1)
	return 0
}

func (c *countingRunner) RegenerateRecurring(ctx context.Context) int {
	c.regenerates.Add(1)
	return 0
}

func TestRunFiresImmediatelyThenOnTicks(t *testing.T) {
	runner := &countingRunner{}
	s := New(runner, 10*time.Millisecond, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for runner.sweeps.Load() < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("sweeps = %d after 2s, want >= 3", runner.sweeps.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if runner.regenerates.Load() < 3 {
		t.Errorf("regenerates = %d, want >= 3", runner.regenerates.Load())
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	runner := &countingRunner{}
	s := New(runner, 5*time.Millisecond, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}

func TestZeroIntervalFallsBackToDefault(t *testing.T) {
	s := New(&countingRunner{}, 0, nil)
	if s.interval != DefaultInterval {
		t.Errorf("interval = %v, want %v", s.interval, DefaultInterval)
	}
}
