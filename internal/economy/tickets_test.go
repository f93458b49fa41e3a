package economy

import (
	"context"
	"errors"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestTickets(t *testing.T) *Tickets {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewTickets(rdb, nil)
}

func TestConsumeAndRefund(t *testing.T) {
	tk := newTestTickets(t)
	ctx := context.Background()

	if err := tk.Consume(ctx, "alice"); !errors.Is(err, ErrInsufficient) {
		t.Fatalf("empty balance: got %v", err)
	}
	if err := tk.Grant(ctx, "alice", 2); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := tk.Consume(ctx, "alice"); err != nil {
			t.Fatalf("Consume %d: %v", i, err)
		}
	}
	if err := tk.Consume(ctx, "alice"); !errors.Is(err, ErrInsufficient) {
		t.Fatalf("third Consume: got %v", err)
	}
	if err := tk.Refund(ctx, "alice"); err != nil {
		t.Fatalf("Refund: %v", err)
	}
	if n, _ := tk.Balance(ctx, "alice"); n != 1 {
		t.Fatalf("balance = %d, want 1", n)
	}
}

func TestConsumeRejectsBlankUser(t *testing.T) {
	tk := newTestTickets(t)
	if err := tk.Consume(context.Background(), " "); !errors.Is(err, ErrInvalidUser) {
		t.Fatalf("got %v", err)
	}
	if err := (Unlimited{}).Consume(context.Background(), "x"); err != nil {
		t.Fatalf("Unlimited.Consume: %v", err)
	}
}
