package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type countingSweeper struct{ n atomic.Int32 }

func (c *countingSweeper) Sweep(ctx context.Context) int {
	c.n.Add(1)
	return 1
}

type failingQueue struct{ n atomic.Int32 }

func (f *failingQueue) Sweep(context.Context) (int, error) {
	f.n.Add(1)
	return 0, errors.New("redis down")
}

type pruner struct{ n atomic.Int32 }

func (p *pruner) Prune() int {
	p.n.Add(1)
	return 0
}

func TestOnlyPresentJobsAreScheduled(t *testing.T) {
	s, err := New(&countingSweeper{}, nil, &pruner{}, nil, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Jobs() != 2 {
		t.Fatalf("jobs = %d, want 2", s.Jobs())
	}
}

func TestRunOnceRunsEveryJob(t *testing.T) {
	sw, q, p := &countingSweeper{}, &failingQueue{}, &pruner{}
	s, err := New(sw, q, p, nil, Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.RunOnce()
	if sw.n.Load() != 1 || q.n.Load() != 1 || p.n.Load() != 1 {
		t.Fatalf("runs = %d %d %d", sw.n.Load(), q.n.Load(), p.n.Load())
	}
}

func TestSessionSweepRunsEverySecond(t *testing.T) {
	sw := &countingSweeper{}
	s, err := New(sw, nil, nil, nil, Options{SessionEvery: time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Start()
	deadline := time.Now().Add(3 * time.Second)
	for sw.n.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if sw.n.Load() == 0 {
		t.Fatalf("sweep never ran")
	}
}
