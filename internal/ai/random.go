package ai

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/park285/goban-arena/internal/board"
)

// Random plays a uniformly random empty point that is not immediate
// suicide, and passes when none is left. It needs no external process and
// is registered as the fallback engine for local setups.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandom(seed int64) *Random {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Random{rng: rand.New(rand.NewSource(seed))}
}

func (r *Random) Name() string { return "random" }

func (r *Random) GenMove(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	free := req.Board.Stones(board.Empty)
	r.mu.Lock()
	r.rng.Shuffle(len(free), func(i, j int) { free[i], free[j] = free[j], free[i] })
	r.mu.Unlock()
	eng := board.NewEngine(req.Board.Size())
	for _, p := range free {
		if _, err := eng.Apply(req.Board, req.ToPlay, p, nil); err == nil {
			return Response{Point: p}, nil
		}
	}
	return Response{Pass: true}, nil
}
