package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/park285/goban-arena/internal/ai"
	"github.com/park285/goban-arena/internal/board"
	"github.com/park285/goban-arena/internal/game"
)

// maxAISteps caps consecutive AI actions after one human input.
const maxAISteps = 32

// driveAI plays for AI seats while one is due. Every AI action goes
// through Machine.Apply exactly like a human one. Caller holds the slot
// lock.
func (m *Manager) driveAI(ctx context.Context, sl *slot) {
	for i := 0; i < maxAISteps; i++ {
		st := sl.st
		if st.IsTerminal() {
			return
		}
		seat := dueAISeat(st)
		if seat == game.NoSeat {
			return
		}
		var (
			next   *game.State
			events []game.Event
		)
		if st.Phase == game.PhaseMainPlay {
			next, events = m.engineTurn(ctx, st, seat)
		} else {
			next, events = m.defaultTurn(st, seat)
		}
		if next == nil {
			m.logger.Error("session_ai_stuck",
				zap.String("session_id", st.ID),
				zap.String("phase", string(st.Phase)))
			return
		}
		m.commit(ctx, sl, next, events)
	}
}

func dueAISeat(st *game.State) game.Seat {
	for _, s := range st.DueSeats() {
		if st.Seats[s].IsAI() {
			return s
		}
	}
	return game.NoSeat
}

// defaultTurn covers setup and scoring for an AI seat.
func (m *Manager) defaultTurn(st *game.State, seat game.Seat) (*game.State, []game.Event) {
	a := m.machine.DefaultAction(st, seat)
	a.System = false
	next, events, err := m.machine.Apply(st, seat, a, m.clock.Now())
	if next == nil {
		m.logger.Warn("session_ai_default_rejected",
			zap.String("session_id", st.ID),
			zap.String("kind", string(a.Kind)),
			zap.Error(err))
	}
	return next, events
}

// engineTurn asks the bridge for a move with bounded attempts. Proposals
// the rules reject count as failed attempts. When every attempt fails the
// seat passes and the session is flagged for an operator.
func (m *Manager) engineTurn(ctx context.Context, st *game.State, seat game.Seat) (*game.State, []game.Event) {
	p := st.Seats[seat]
	if m.ai != nil {
		view, err := board.FromRows(st.View(seat, m.clock.Now()).Rows)
		if err == nil {
			req := ai.Request{
				SessionID: st.ID,
				Engine:    p.Engine,
				Level:     p.Level,
				Variant:   st.Variant,
				Board:     view,
				ToPlay:    st.Colors[seat],
				Komi:      st.Komi,
			}
			for attempt := 1; attempt <= m.opts.AIAttempts; attempt++ {
				if ctx.Err() != nil {
					break
				}
				start := time.Now()
				resp, err := m.ai.RequestMove(ctx, req)
				m.metrics.AIRequest(p.Engine, err == nil, time.Since(start))
				if err != nil {
					m.logger.Warn("session_ai_unavailable",
						zap.String("session_id", st.ID),
						zap.Int("attempt", attempt),
						zap.Error(err))
					continue
				}
				next, events, err := m.machine.Apply(st, seat, responseAction(resp), m.clock.Now())
				if next != nil {
					return next, events
				}
				m.logger.Warn("session_ai_move_rejected",
					zap.String("session_id", st.ID),
					zap.String("move", resp.String()),
					zap.Int("attempt", attempt),
					zap.Error(err))
			}
		}
	}

	a := m.machine.DefaultAction(st, seat)
	a.System = false
	next, events, err := m.machine.Apply(st, seat, a, m.clock.Now())
	if next == nil {
		m.logger.Error("session_ai_fallback_rejected", zap.String("session_id", st.ID), zap.Error(err))
		return nil, nil
	}
	if !next.IsTerminal() {
		next.NeedsAttention = true
	}
	m.logger.Warn("session_ai_fallback",
		zap.String("session_id", st.ID),
		zap.String("kind", string(a.Kind)))
	return next, events
}

func responseAction(r ai.Response) game.Action {
	switch {
	case r.Resign:
		return game.Action{Kind: game.ActResign}
	case r.Pass:
		return game.Action{Kind: game.ActPass}
	}
	return game.Action{Kind: game.ActMove, Point: r.Point}
}
