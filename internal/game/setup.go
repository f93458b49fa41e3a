package game

import (
	"github.com/park285/goban-arena/internal/board"
)

const (
	maxKomiBid    = 100
	maxCaptureBid = 200
	nigiriStones  = 19
)

// submit stores a sealed submission; ready is true once both seats are in.
func (s *step) submit(seat Seat, sub Submission) (ready bool, err error) {
	if s.st.Submissions[seat] != nil {
		return false, ErrWrongTurn.Withf("seat %s already submitted", seat)
	}
	s.st.Submissions[seat] = &sub
	s.emit(Event{Kind: EventSetup, Seat: seat, Note: "submitted"})
	return s.st.Submissions[0] != nil && s.st.Submissions[1] != nil, nil
}

func (s *step) values() (int, int) {
	return s.st.Submissions[0].Value, s.st.Submissions[1].Value
}

// retry clears submissions for another round of the same phase, or reports
// false when the bounded loop is exhausted.
func (s *step) retry() bool {
	if s.st.Round+1 >= s.m.opts.MaxTiebreakRounds {
		return false
	}
	s.st.Round++
	s.st.Submissions = [2]*Submission{}
	s.st.PhaseDeadline = s.now.Add(s.m.opts.SetupTimeout)
	s.note("tie, round %d", s.st.Round)
	return true
}

func onNigiri(s *step, seat Seat, a Action) error {
	if seat != SeatB {
		return ErrWrongTurn.Withf("seat B guesses in nigiri")
	}
	if a.Value != 0 && a.Value != 1 {
		return ErrIllegalMove.Withf("guess must be 0 (even) or 1 (odd)")
	}
	n := 1 + s.m.intn(nigiriStones)
	if n%2 == a.Value {
		s.assignBlack(SeatB)
	} else {
		s.assignBlack(SeatA)
	}
	s.note("nigiri %d stones, guess %d", n, a.Value)
	s.advance()
	return nil
}

func onKomiBid(s *step, seat Seat, a Action) error {
	if a.Value < 0 || a.Value > maxKomiBid {
		return ErrIllegalMove.Withf("komi bid out of range")
	}
	ready, err := s.submit(seat, Submission{Value: a.Value})
	if err != nil || !ready {
		return err
	}
	va, vb := s.values()
	winner, bid := SeatA, va
	switch {
	case vb > va:
		winner, bid = SeatB, vb
	case va == vb:
		winner = s.randomSeat()
	}
	s.assignBlack(winner)
	s.st.Komi = float64(bid) + 0.5
	s.note("komi %.1f to white", s.st.Komi)
	s.advance()
	return nil
}

// onCaptureBid: the higher bidder takes Black and must reach its own bid;
// White keeps the configured target.
func onCaptureBid(s *step, seat Seat, a Action) error {
	if a.Value < 1 || a.Value > maxCaptureBid {
		return ErrIllegalMove.Withf("capture bid out of range")
	}
	ready, err := s.submit(seat, Submission{Value: a.Value})
	if err != nil || !ready {
		return err
	}
	va, vb := s.values()
	var winner Seat
	bid := va
	switch {
	case va > vb:
		winner = SeatA
	case vb > va:
		winner, bid = SeatB, vb
	default:
		if s.st.Phase == PhaseCaptureBid {
			s.enterSub(PhaseCaptureBidTiebreak, 1)
			return nil
		}
		if s.retry() {
			return nil
		}
		winner = s.randomSeat()
	}
	s.assignBlack(winner)
	s.st.CaptureTargets[winner] = bid
	s.st.CaptureTargets[winner.Other()] = s.st.Config.CaptureTarget
	s.note("black needs %d captures", bid)
	s.advance()
	return nil
}

// checkPoints validates a placement list for seat.
func (s *step) checkPoints(seat Seat, pts []board.Point, want int, inZone func(board.Point) bool) error {
	if len(pts) != want {
		return ErrIllegalMove.Withf("expected %d points, got %d", want, len(pts))
	}
	seen := make(map[board.Point]bool, len(pts))
	for _, p := range pts {
		if !s.st.Board.InBounds(p) {
			return IllegalMove(board.ErrOutOfBounds)
		}
		if s.st.Board.At(p) != board.Empty {
			return IllegalMove(board.ErrOccupied)
		}
		if seen[p] {
			return ErrIllegalMove.Withf("duplicate point %s", p)
		}
		if inZone != nil && !inZone(p) {
			return ErrIllegalMove.Withf("point %s outside seat %s zone", p, seat)
		}
		seen[p] = true
	}
	return nil
}

// placeBoth puts both seats' submitted stones on the board. Points chosen
// by both seats stay empty. Chains left without liberties are removed.
func (s *step) placeBoth(hidden bool) {
	a, b := s.st.Submissions[0].Points, s.st.Submissions[1].Points
	clash := make(map[board.Point]bool)
	for _, p := range a {
		for _, q := range b {
			if p == q {
				clash[p] = true
			}
		}
	}
	for i, pts := range [2][]board.Point{a, b} {
		seat := Seat(i)
		for _, p := range pts {
			if clash[p] {
				continue
			}
			_ = s.st.Board.Put(p, s.st.Colors[seat])
			s.st.Setup = append(s.st.Setup, SetupStone{Seat: seat, Point: p, Hidden: hidden})
			if hidden {
				if s.st.Hidden == nil {
					s.st.Hidden = make(map[board.Point]Seat)
				}
				s.st.Hidden[p] = seat
			}
		}
	}
	for _, p := range s.st.engine().RemoveDeadGroups(s.st.Board) {
		delete(s.st.Hidden, p)
	}
	if len(clash) > 0 {
		s.note("%d contested points left empty", len(clash))
	}
}

func onBasePlacement(s *step, seat Seat, a Action) error {
	if err := s.checkPoints(seat, a.Points, s.st.Config.BaseStones, nil); err != nil {
		return err
	}
	ready, err := s.submit(seat, Submission{Points: a.Points})
	if err != nil || !ready {
		return err
	}
	s.placeBoth(false)
	s.advance()
	return nil
}

func onHiddenPlacement(s *step, seat Seat, a Action) error {
	if err := s.checkPoints(seat, a.Points, s.st.Config.HiddenStones, nil); err != nil {
		return err
	}
	ready, err := s.submit(seat, Submission{Points: a.Points})
	if err != nil || !ready {
		return err
	}
	s.placeBoth(true)
	s.advance()
	return nil
}

// tokenZone is the half of the board a seat places alkkagi tokens on. The
// centre row of an odd board belongs to nobody.
func tokenZone(size int, seat Seat) func(board.Point) bool {
	return func(p board.Point) bool {
		if seat == SeatA {
			return p.Y < size/2
		}
		return p.Y > (size-1)/2
	}
}

func onTokenPlacement(s *step, seat Seat, a Action) error {
	zone := tokenZone(s.st.Board.Size(), seat)
	if err := s.checkPoints(seat, a.Points, s.st.Config.TokenCount, zone); err != nil {
		return err
	}
	ready, err := s.submit(seat, Submission{Points: a.Points})
	if err != nil || !ready {
		return err
	}
	for i := range s.st.Submissions {
		seat := Seat(i)
		for _, p := range s.st.Submissions[i].Points {
			_ = s.st.Board.Put(p, s.st.Colors[seat])
			s.st.Setup = append(s.st.Setup, SetupStone{Seat: seat, Point: p})
		}
	}
	s.advance()
	return nil
}

// onDiceRoll: the server rolls for the seat; high roll takes Black.
func onDiceRoll(s *step, seat Seat, _ Action) error {
	roll := 1 + s.m.intn(6)
	ready, err := s.submit(seat, Submission{Value: roll})
	if err != nil || !ready {
		return err
	}
	va, vb := s.values()
	s.note("dice %d:%d", va, vb)
	switch {
	case va > vb:
		s.assignBlack(SeatA)
	case vb > va:
		s.assignBlack(SeatB)
	default:
		if s.retry() {
			return nil
		}
		s.assignBlack(s.randomSeat())
	}
	s.advance()
	return nil
}

// rpsBeats reports whether x beats y.
func rpsBeats(x, y int) bool {
	return (x == Rock && y == Scissors) || (x == Paper && y == Rock) || (x == Scissors && y == Paper)
}

func onRPS(s *step, seat Seat, a Action) error {
	if a.Value < Rock || a.Value > Scissors {
		return ErrIllegalMove.Withf("rps choice must be 0..2")
	}
	ready, err := s.submit(seat, Submission{Value: a.Value})
	if err != nil || !ready {
		return err
	}
	va, vb := s.values()
	switch {
	case rpsBeats(va, vb):
		s.assignBlack(SeatA)
	case rpsBeats(vb, va):
		s.assignBlack(SeatB)
	default:
		if s.retry() {
			return nil
		}
		s.assignBlack(s.randomSeat())
	}
	s.advance()
	return nil
}
