package game

import (
	"fmt"

	"github.com/park285/goban-arena/internal/board"
	"github.com/park285/goban-arena/internal/variant"
)

func (s *step) onTurn(seat Seat) error {
	if seat != s.st.SeatToMove {
		return ErrWrongTurn.Withf("seat %s to move", s.st.SeatToMove)
	}
	return nil
}

func (s *step) record(seat Seat, kind ActionKind, p, to board.Point, captured []board.Point) *MoveRecord {
	rec := MoveRecord{
		Seq:      len(s.st.History) + 1,
		Seat:     seat,
		Color:    s.st.Colors[seat],
		Kind:     kind,
		Point:    p,
		To:       to,
		At:       s.now,
		Captured: captured,
	}
	s.st.History = append(s.st.History, rec)
	s.emit(Event{Kind: EventMove, Seat: seat, Move: &rec})
	return &rec
}

// endTurn hands the move to the other seat, unless the session finished.
func (s *step) endTurn(seat Seat) {
	if s.st.Phase != PhaseMainPlay && s.st.Phase != PhaseCurlingTiebreak {
		return
	}
	next := seat.Other()
	if !s.st.Clock.Switch(int(next), s.now) {
		s.timeoutLoss(seat)
		return
	}
	s.st.SeatToMove = next
}

// commitBoard applies a placement result and settles captures.
func (s *step) commitBoard(seat Seat, res board.Result) {
	other := seat.Other()
	s.st.KoRef = s.st.Board
	s.st.Board = res.Board
	s.st.Captured[other] += len(res.Captured)
	s.st.Passes = 0
	if len(s.st.Hidden) == 0 {
		return
	}
	for _, p := range res.Captured {
		delete(s.st.Hidden, p)
	}
	// hidden stones that did the capturing are exposed
	for _, p := range res.Captured {
		for _, q := range around(p) {
			if _, ok := s.st.Hidden[q]; ok && s.st.Board.At(q) != board.Empty {
				delete(s.st.Hidden, q)
			}
		}
	}
}

func around(p board.Point) [4]board.Point {
	return [4]board.Point{{X: p.X - 1, Y: p.Y}, {X: p.X + 1, Y: p.Y}, {X: p.X, Y: p.Y - 1}, {X: p.X, Y: p.Y + 1}}
}

func onMove(s *step, seat Seat, a Action) error {
	if err := s.onTurn(seat); err != nil {
		return err
	}
	st := s.st
	color := st.Colors[seat]

	// landing on an unseen enemy stone exposes it and costs the turn
	if owner, ok := st.Hidden[a.Point]; ok {
		if owner == seat {
			return IllegalMove(board.ErrOccupied)
		}
		delete(st.Hidden, a.Point)
		st.Passes = 0
		s.record(seat, ActMove, a.Point, a.Point, nil)
		s.emit(Event{Kind: EventScan, Seat: seat, Note: "hidden stone exposed"})
		s.endTurn(seat)
		return nil
	}

	var res board.Result
	if s.v.Captures {
		r, err := st.engine().Apply(st.Board, color, a.Point, st.KoRef)
		if err != nil {
			return IllegalMove(err)
		}
		res = r
	} else {
		nb, err := board.Place(st.Board, color, a.Point)
		if err != nil {
			return IllegalMove(err)
		}
		res = board.Result{Board: nb}
	}
	s.commitBoard(seat, res)
	s.record(seat, ActMove, a.Point, a.Point, res.Captured)

	if s.v.HasWin(variant.WinFiveInRow) && board.FiveInRow(st.Board, a.Point) {
		s.win(seat, ReasonFiveInRow)
		return nil
	}
	if s.checkGoEnd(seat) {
		return nil
	}
	s.endTurn(seat)
	return nil
}

// checkGoEnd applies the capture target, turn limit and full-board rules
// after a board-changing action. It reports whether the phase changed.
func (s *step) checkGoEnd(seat Seat) bool {
	st := s.st
	if t := st.CaptureTargets[seat]; t > 0 && st.Prisoners(seat) >= t {
		s.win(seat, ReasonCaptureTarget)
		return true
	}
	if s.v.HasWin(variant.WinTurnLimit) && len(st.History) >= st.Config.TurnLimit {
		s.win(st.SeatWithColor(board.Black), ReasonTurnLimit)
		return true
	}
	if st.Board.Count(board.Empty) == 0 {
		if s.v.Scoring == variant.ScoringArea {
			s.advance()
		} else {
			s.draw(ReasonBoardFull)
		}
		return true
	}
	return false
}

func onPass(s *step, seat Seat, _ Action) error {
	if err := s.onTurn(seat); err != nil {
		return err
	}
	s.st.Passes++
	s.record(seat, ActPass, board.Point{}, board.Point{}, nil)
	if s.st.Passes >= 2 {
		if s.v.Scoring == variant.ScoringArea {
			s.advance()
		} else {
			s.draw(ReasonDoublePass)
		}
		return nil
	}
	if s.v.HasWin(variant.WinTurnLimit) && len(s.st.History) >= s.st.Config.TurnLimit {
		s.win(s.st.SeatWithColor(board.Black), ReasonTurnLimit)
		return nil
	}
	s.endTurn(seat)
	return nil
}

func (s *step) subRule(action ActionKind, mix string) bool {
	if s.v.Allows(string(action)) {
		return true
	}
	return s.v.Mixable && s.st.Config.HasMix(mix)
}

// onScan reveals the opponent's hidden stones in the 3x3 area centred on
// the point to the scanning seat. The turn does not change.
func onScan(s *step, seat Seat, a Action) error {
	if !s.subRule(ActScan, variant.MixHidden) {
		return ErrInvalidPhaseAction.Withf("scan is not enabled")
	}
	if err := s.onTurn(seat); err != nil {
		return err
	}
	if !s.st.Board.InBounds(a.Point) {
		return IllegalMove(board.ErrOutOfBounds)
	}
	if s.st.ScansLeft[seat] <= 0 {
		return ErrIllegalMove.Withf("no scans left")
	}
	s.st.ScansLeft[seat]--
	found := 0
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			p := board.Point{X: a.Point.X + dx, Y: a.Point.Y + dy}
			if owner, ok := s.st.Hidden[p]; ok && owner != seat {
				if s.st.Revealed[seat] == nil {
					s.st.Revealed[seat] = make(map[board.Point]bool)
				}
				s.st.Revealed[seat][p] = true
				found++
			}
		}
	}
	s.emit(Event{Kind: EventScan, Seat: seat, Note: fmt.Sprintf("scan %s found %d", a.Point, found)})
	return nil
}

func onMissile(s *step, seat Seat, a Action) error {
	if !s.subRule(ActMissile, variant.MixMissile) {
		return ErrInvalidPhaseAction.Withf("missile is not enabled")
	}
	if err := s.onTurn(seat); err != nil {
		return err
	}
	if s.st.MissilesLeft[seat] <= 0 {
		return ErrIllegalMove.Withf("no missiles left")
	}
	if owner, ok := s.st.Hidden[a.Point]; ok && owner != seat {
		return IllegalMove(board.ErrNotOwnStone)
	}
	color := s.st.Colors[seat]
	res, err := s.st.engine().Slide(s.st.Board, color, a.Point, a.Direction, s.st.KoRef)
	if err != nil {
		return IllegalMove(err)
	}
	to := landing(s.st.Board, res.Board, color, a.Point)
	if h, ok := s.st.Hidden[a.Point]; ok {
		delete(s.st.Hidden, a.Point)
		s.st.Hidden[to] = h
	}
	s.st.MissilesLeft[seat]--
	s.commitBoard(seat, res)
	s.record(seat, ActMissile, a.Point, to, res.Captured)
	if s.checkGoEnd(seat) {
		return nil
	}
	s.endTurn(seat)
	return nil
}

// landing finds where a slid stone came to rest.
func landing(before, after *board.Board, c board.Stone, from board.Point) board.Point {
	for _, p := range after.Stones(c) {
		if before.At(p) == board.Empty {
			return p
		}
	}
	return from
}

func onFlick(s *step, seat Seat, a Action) error {
	if err := s.onTurn(seat); err != nil {
		return err
	}
	if s.v.HasWin(variant.WinCurlingEnds) {
		return s.curlingThrow(seat, a)
	}
	return s.alkkagiFlick(seat, a)
}

// alkkagiFlick moves one of the seat's tokens. Value 1 means the flicked
// token left the board; Points lists opponent tokens knocked off.
func (s *step) alkkagiFlick(seat Seat, a Action) error {
	st := s.st
	own, opp := st.Colors[seat], st.Colors[seat.Other()]
	if st.Board.At(a.Point) != own {
		return IllegalMove(board.ErrNotOwnStone)
	}
	out := a.Value == 1
	if !out && (!st.Board.InBounds(a.To) || (a.To != a.Point && st.Board.At(a.To) != board.Empty && !contains(a.Points, a.To))) {
		return IllegalMove(board.ErrOccupied)
	}
	for _, p := range a.Points {
		if st.Board.At(p) != opp {
			return ErrIllegalMove.Withf("no opponent token at %s", p)
		}
	}
	next := st.Board.Clone()
	for _, p := range a.Points {
		_ = next.Put(p, board.Empty)
	}
	_ = next.Put(a.Point, board.Empty)
	if !out {
		_ = next.Put(a.To, own)
	}
	st.Board = next
	st.Captured[seat.Other()] += len(a.Points)
	if out {
		st.Captured[seat]++
	}
	s.record(seat, ActFlick, a.Point, a.To, append([]board.Point(nil), a.Points...))

	ownLeft, oppLeft := next.Count(own), next.Count(opp)
	switch {
	case ownLeft == 0 && oppLeft == 0:
		s.draw(ReasonLastToken)
	case oppLeft == 0:
		s.win(seat, ReasonLastToken)
	case ownLeft == 0:
		s.win(seat.Other(), ReasonLastToken)
	default:
		s.endTurn(seat)
	}
	return nil
}

func contains(ps []board.Point, p board.Point) bool {
	for _, q := range ps {
		if q == p {
			return true
		}
	}
	return false
}

// curlingThrow lands one stone at To (or off the house when Value is 1),
// knocking out the listed stones of either colour.
func (s *step) curlingThrow(seat Seat, a Action) error {
	st := s.st
	cs := st.Curling
	if cs.Thrown[seat] >= st.Config.CurlingStones {
		return ErrWrongTurn.Withf("seat %s has thrown all stones this end", seat)
	}
	out := a.Value == 1
	if !out {
		if !st.Board.InBounds(a.To) {
			return IllegalMove(board.ErrOutOfBounds)
		}
		if st.Board.At(a.To) != board.Empty && !contains(a.Points, a.To) {
			return IllegalMove(board.ErrOccupied)
		}
	}
	for _, p := range a.Points {
		if st.Board.At(p) == board.Empty {
			return ErrIllegalMove.Withf("no stone at %s", p)
		}
	}
	next := st.Board.Clone()
	for _, p := range a.Points {
		_ = next.Put(p, board.Empty)
	}
	if !out {
		_ = next.Put(a.To, st.Colors[seat])
	}
	st.Board = next
	cs.Thrown[seat]++
	s.record(seat, ActFlick, a.To, a.To, append([]board.Point(nil), a.Points...))

	other := seat.Other()
	if cs.Thrown[other] < st.Config.CurlingStones {
		s.endTurn(seat)
		return nil
	}
	if cs.Thrown[seat] < st.Config.CurlingStones {
		// the other seat is out of stones; keep throwing
		if !st.Clock.Switch(int(seat), s.now) {
			s.timeoutLoss(seat)
		}
		return nil
	}
	s.scoreEnd()
	return nil
}

// scoreEnd counts the stones of the side closest to the centre that lie
// nearer than the opponent's best stone, then resets the sheet.
func (s *step) scoreEnd() {
	st := s.st
	cs := st.Curling
	size := st.Board.Size()
	c := board.Point{X: size / 2, Y: size / 2}
	best := [2]int{-1, -1}
	var dists [2][]int
	for i := range st.Colors {
		for _, p := range st.Board.Stones(st.Colors[i]) {
			d := (p.X-c.X)*(p.X-c.X) + (p.Y-c.Y)*(p.Y-c.Y)
			dists[i] = append(dists[i], d)
			if best[i] < 0 || d < best[i] {
				best[i] = d
			}
		}
	}
	scorer, points := NoSeat, 0
	for i := range dists {
		if best[i] < 0 {
			continue
		}
		rival := best[1-i]
		if rival >= 0 && best[i] >= rival {
			continue
		}
		scorer = Seat(i)
		for _, d := range dists[i] {
			if rival < 0 || d < rival {
				points++
			}
		}
	}
	if scorer != NoSeat {
		cs.Points[scorer] += points
	}
	s.note("end %d: seat %s scores %d", cs.End+1, scorer, points)

	cs.End++
	cs.Thrown = [2]int{}
	st.Board = board.MustNew(size)

	first := st.SeatToMove
	if scorer != NoSeat {
		first = scorer.Other()
	}

	if st.Phase == PhaseCurlingTiebreak {
		if scorer != NoSeat {
			s.win(scorer, ReasonCurling)
			return
		}
		if st.Round+1 >= s.m.opts.MaxTiebreakRounds {
			s.draw(ReasonCurling)
			return
		}
		st.Round++
		s.restartThrows(first)
		return
	}
	if cs.End < st.Config.CurlingEnds {
		s.restartThrows(first)
		return
	}
	switch {
	case cs.Points[0] > cs.Points[1]:
		s.win(SeatA, ReasonCurling)
	case cs.Points[1] > cs.Points[0]:
		s.win(SeatB, ReasonCurling)
	default:
		s.enterSub(PhaseCurlingTiebreak, 0)
		s.restartThrows(first)
	}
}

func (s *step) restartThrows(first Seat) {
	if !s.st.Clock.Switch(int(first), s.now) {
		s.timeoutLoss(s.st.SeatToMove)
		return
	}
	s.st.SeatToMove = first
}
