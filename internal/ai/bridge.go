// Package ai asks external engines for main-play moves. Engines only
// propose; the session manager revalidates every answer through the board
// engine before it is applied.
package ai

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/park285/goban-arena/internal/board"
)

var (
	// ErrUnavailable covers every engine failure: timeout, crash, bad reply.
	ErrUnavailable   = errors.New("ai engine unavailable")
	ErrUnknownEngine = errors.New("unknown ai engine")
)

// Request is the position an engine is asked to play from. Board is the
// AI seat's own view, so opponent hidden stones are absent.
type Request struct {
	SessionID string
	Engine    string
	Level     int
	Variant   string
	Board     *board.Board
	ToPlay    board.Stone
	Komi      float64
}

// Response is exactly one of Pass, Resign or a point to play.
type Response struct {
	Pass   bool
	Resign bool
	Point  board.Point
}

func (r Response) String() string {
	switch {
	case r.Resign:
		return "resign"
	case r.Pass:
		return "pass"
	}
	return r.Point.String()
}

// Engine is one move generator.
type Engine interface {
	Name() string
	GenMove(ctx context.Context, req Request) (Response, error)
}

// Bridge routes requests to engines by name and bounds each call.
type Bridge struct {
	engines map[string]Engine
	timeout time.Duration
	logger  *zap.Logger
}

func NewBridge(timeout time.Duration, logger *zap.Logger, engines ...Engine) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b := &Bridge{engines: make(map[string]Engine, len(engines)), timeout: timeout, logger: logger}
	for _, e := range engines {
		if e != nil {
			b.engines[e.Name()] = e
		}
	}
	return b
}

// Has reports whether an engine is registered under name.
func (b *Bridge) Has(name string) bool {
	if b == nil {
		return false
	}
	_, ok := b.engines[name]
	return ok
}

// Engines lists registered engine names, sorted.
func (b *Bridge) Engines() []string {
	out := make([]string, 0, len(b.engines))
	for name := range b.engines {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RequestMove performs one bounded attempt. Any failure is reported as
// ErrUnavailable so callers can fall back uniformly.
func (b *Bridge) RequestMove(ctx context.Context, req Request) (Response, error) {
	e, ok := b.engines[req.Engine]
	if !ok {
		return Response{}, fmt.Errorf("%w: %w %q", ErrUnavailable, ErrUnknownEngine, req.Engine)
	}
	if req.Board == nil || req.ToPlay == board.Empty {
		return Response{}, fmt.Errorf("%w: incomplete request", ErrUnavailable)
	}
	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.GenMove(callCtx, req)
	if err != nil {
		b.logger.Warn("ai_genmove_failed",
			zap.String("session_id", req.SessionID),
			zap.String("engine", req.Engine),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return Response{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if !resp.Pass && !resp.Resign && !req.Board.InBounds(resp.Point) {
		return Response{}, fmt.Errorf("%w: engine answered off-board point %s", ErrUnavailable, resp.Point)
	}
	b.logger.Debug("ai_genmove",
		zap.String("session_id", req.SessionID),
		zap.String("engine", req.Engine),
		zap.String("move", resp.String()),
		zap.Duration("elapsed", time.Since(start)))
	return resp, nil
}
