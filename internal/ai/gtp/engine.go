// Package gtp drives GTP speaking engines (GNU Go and compatibles) as
// pooled subprocesses.
package gtp

import (
	"context"

	"github.com/park285/goban-arena/internal/ai"
)

// Engine adapts a Pool to ai.Engine.
type Engine struct {
	pool *Pool
	name string
}

func NewEngine(name string, pool *Pool) *Engine {
	if name == "" {
		name = "gnugo"
	}
	return &Engine{pool: pool, name: name}
}

func (e *Engine) Name() string { return e.name }

func (e *Engine) GenMove(ctx context.Context, req ai.Request) (ai.Response, error) {
	session, err := e.pool.Acquire(ctx, req.Level)
	if err != nil {
		return ai.Response{}, err
	}
	p, pass, resign, err := session.GenMove(ctx, req.Board, req.ToPlay, req.Komi)
	e.pool.Release(session, err)
	if err != nil {
		return ai.Response{}, err
	}
	return ai.Response{Point: p, Pass: pass, Resign: resign}, nil
}

func (e *Engine) Close() error { return e.pool.Close() }
