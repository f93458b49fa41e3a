package rating

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestUpdater(t *testing.T) *Updater {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewUpdater(rdb, Config{K: 32, Initial: 1500}, nil)
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestExpectedAndUpdate(t *testing.T) {
	if !near(Expected(1500, 1500), 0.5) {
		t.Fatalf("equal ratings should expect 0.5")
	}
	if !near(Expected(1900, 1500), 1/(1+math.Pow(10, -1))) {
		t.Fatalf("Expected(1900,1500) = %v", Expected(1900, 1500))
	}
	a, b := Update(1500, 1500, 1, 32)
	if !near(a, 1516) || !near(b, 1484) {
		t.Fatalf("Update = %v,%v, want 1516,1484", a, b)
	}
	a, b = Update(1600, 1400, 0.5, 32)
	if a >= 1600 || b <= 1400 || !near(a+b, 3000) {
		t.Fatalf("draw against weaker player should cost rating: %v,%v", a, b)
	}
}

func TestApplyIsIdempotentPerSession(t *testing.T) {
	u := newTestUpdater(t)
	ctx := context.Background()
	o := Outcome{SessionID: "s1", Season: "2026", Mode: "classic-19", A: "alice", B: "bob", ScoreA: 1}

	a, b, applied, err := u.Apply(ctx, o)
	if err != nil || !applied {
		t.Fatalf("first Apply: applied=%v err=%v", applied, err)
	}
	if !near(a.Rating, 1516) || !near(b.Rating, 1484) || a.Wins != 1 || b.Losses != 1 {
		t.Fatalf("unexpected records: %+v %+v", a, b)
	}

	_, _, applied, err = u.Apply(ctx, o)
	if err != nil || applied {
		t.Fatalf("second Apply: applied=%v err=%v", applied, err)
	}
	got, err := u.Get(ctx, "alice", "2026", "classic-19")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !near(got.Rating, 1516) || got.Games() != 1 {
		t.Fatalf("rating changed twice: %+v", got)
	}
}

func TestApplyConcurrentRedeliveryRatesOnce(t *testing.T) {
	u := newTestUpdater(t)
	ctx := context.Background()
	o := Outcome{SessionID: "s2", Season: "2026", Mode: "omok-15", A: "carol", B: "dave", ScoreA: 0.5}

	var wg sync.WaitGroup
	var mu sync.Mutex
	appliedCount := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, applied, err := u.Apply(ctx, o)
			if err != nil && !errors.Is(err, ErrContention) {
				t.Errorf("Apply: %v", err)
				return
			}
			if applied {
				mu.Lock()
				appliedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if appliedCount != 1 {
		t.Fatalf("applied %d times, want 1", appliedCount)
	}
	c, _ := u.Get(ctx, "carol", "2026", "omok-15")
	if c.Draws != 1 || c.Games() != 1 {
		t.Fatalf("carol = %+v", c)
	}
}

func TestSeasonsAreIndependent(t *testing.T) {
	u := newTestUpdater(t)
	ctx := context.Background()
	if _, _, _, err := u.Apply(ctx, Outcome{SessionID: "x", Season: "s1", Mode: "m", A: "a", B: "b", ScoreA: 0}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	r, _ := u.Get(ctx, "b", "s2", "m")
	if r.Rating != 1500 || r.Games() != 0 {
		t.Fatalf("new season should start fresh: %+v", r)
	}
	top, err := u.Top(ctx, "s1", "m", 5)
	if err != nil || len(top) != 2 || top[0].UserID != "b" {
		t.Fatalf("Top = %+v, %v", top, err)
	}
}

func TestApplyRejectsBadOutcome(t *testing.T) {
	u := newTestUpdater(t)
	bad := []Outcome{
		{SessionID: "", A: "a", B: "b", ScoreA: 1},
		{SessionID: "s", A: "a", B: "a", ScoreA: 1},
		{SessionID: "s", A: "a", B: "b", ScoreA: 2},
	}
	for _, o := range bad {
		if _, _, _, err := u.Apply(context.Background(), o); !errors.Is(err, ErrInvalidOutcome) {
			t.Fatalf("Apply(%+v) = %v", o, err)
		}
	}
}
