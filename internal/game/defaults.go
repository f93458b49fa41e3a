package game

import (
	"github.com/park285/goban-arena/internal/board"
	"github.com/park285/goban-arena/internal/variant"
)

// DefaultAction is what the server plays for a seat that did not act in
// time, or for an AI seat outside main play: a minimal bid, a random roll or
// choice, random legal placements, a pass.
func (m *Machine) DefaultAction(st *State, seat Seat) Action {
	a := m.defaultAction(st, seat)
	a.System = true
	return a
}

func (m *Machine) defaultAction(st *State, seat Seat) Action {
	switch st.Phase {
	case PhaseNigiri:
		return Action{Kind: ActNigiriGuess, Value: m.intn(2)}
	case PhaseKomiBid:
		return Action{Kind: ActBid, Value: 0}
	case PhaseCaptureBid, PhaseCaptureBidTiebreak:
		return Action{Kind: ActBid, Value: max(1, st.Config.CaptureTarget)}
	case PhaseDiceRoll:
		return Action{Kind: ActRoll}
	case PhaseRPS:
		return Action{Kind: ActRPS, Value: m.intn(3)}
	case PhaseBasePlacement:
		return Action{Kind: ActPlaceSetup, Points: m.randomEmpty(st.Board, st.Config.BaseStones, nil)}
	case PhaseHiddenPlacement:
		return Action{Kind: ActPlaceSetup, Points: m.randomEmpty(st.Board, st.Config.HiddenStones, nil)}
	case PhaseTokenPlacement:
		zone := tokenZone(st.Board.Size(), seat)
		return Action{Kind: ActPlaceSetup, Points: m.randomEmpty(st.Board, st.Config.TokenCount, zone)}
	case PhaseScoring:
		if st.Proposal != nil && st.Proposal.By != seat {
			return Action{Kind: ActAcceptScore}
		}
		return Action{Kind: ActMarkDead}
	case PhaseMainPlay, PhaseCurlingTiebreak:
		v, _ := m.catalog.Get(st.Variant)
		if v != nil && !v.Allows(string(ActPass)) {
			return m.throwaway(st, seat, v)
		}
	}
	return Action{Kind: ActPass}
}

// throwaway is the forfeit-style move for variants without a pass.
func (m *Machine) throwaway(st *State, seat Seat, v *variant.Variant) Action {
	if v.HasWin(variant.WinCurlingEnds) {
		return Action{Kind: ActFlick, Value: 1}
	}
	own := st.Board.Stones(st.Colors[seat])
	if len(own) == 0 {
		return Action{Kind: ActResign}
	}
	return Action{Kind: ActFlick, Point: own[m.intn(len(own))], Value: 1}
}

// randomEmpty picks n distinct empty points, restricted to zone when set.
func (m *Machine) randomEmpty(b *board.Board, n int, zone func(board.Point) bool) []board.Point {
	var free []board.Point
	for _, p := range b.Stones(board.Empty) {
		if zone == nil || zone(p) {
			free = append(free, p)
		}
	}
	m.rngMu.Lock()
	m.rng.Shuffle(len(free), func(i, j int) { free[i], free[j] = free[j], free[i] })
	m.rngMu.Unlock()
	if n > len(free) {
		n = len(free)
	}
	return append([]board.Point(nil), free[:n]...)
}
