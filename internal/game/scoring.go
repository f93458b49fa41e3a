package game

import (
	"github.com/park285/goban-arena/internal/board"
)

// onMarkDead proposes a dead-stone set. While a proposal is open only the
// other seat may counter it.
func onMarkDead(s *step, seat Seat, a Action) error {
	st := s.st
	if st.Proposal != nil && st.Proposal.By == seat {
		return ErrWrongTurn.Withf("waiting for seat %s to respond", seat.Other())
	}
	seen := make(map[board.Point]bool, len(a.Points))
	dead := make([]board.Point, 0, len(a.Points))
	for _, p := range a.Points {
		if st.Board.At(p) == board.Empty {
			return ErrIllegalMove.Withf("no stone at %s", p)
		}
		if !seen[p] {
			seen[p] = true
			dead = append(dead, p)
		}
	}
	st.ScoringRounds++
	if st.ScoringRounds > s.m.opts.MaxScoringRounds {
		s.forcedCount()
		return nil
	}
	st.Proposal = &DeadProposal{By: seat, Dead: dead, Round: st.ScoringRounds}
	st.PhaseDeadline = s.now.Add(s.m.opts.ScoringTimeout)
	s.emit(Event{Kind: EventProposal, Seat: seat})
	return nil
}

func onAcceptScore(s *step, seat Seat, _ Action) error {
	p := s.st.Proposal
	if p == nil {
		return ErrInvalidPhaseAction.Withf("no proposal to accept")
	}
	if p.By == seat {
		return ErrWrongTurn.Withf("proposer cannot accept")
	}
	s.count(p.Dead, ReasonScore)
	return nil
}

// forcedCount scores the board as it stands.
func (s *step) forcedCount() { s.count(nil, ReasonForcedCount) }

func (s *step) count(dead []board.Point, reason string) {
	sc := board.AreaScore(s.st.Board, dead, s.st.Komi)
	r := TerminalResult{Kind: ResultDraw, Winner: NoSeat, Reason: reason, Score: &sc}
	if w := sc.Winner(); w != board.Empty {
		r.Kind = ResultWin
		r.Winner = s.st.SeatWithColor(w)
	}
	s.finish(r)
}
