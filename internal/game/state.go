package game

import (
	"time"

	"github.com/park285/goban-arena/internal/board"
	"github.com/park285/goban-arena/internal/gameclock"
)

// Submission is one seat's sealed input in a simultaneous setup phase.
type Submission struct {
	Value  int           `json:"value"`
	Points []board.Point `json:"points,omitempty"`
}

// CurlingState tracks ends for the curling variant.
type CurlingState struct {
	End    int    `json:"end"`
	Thrown [2]int `json:"thrown"`
	Points [2]int `json:"points"`
}

// State is the authoritative state of one session. It is owned by the
// session manager and only mutated through Machine.Apply on a clone.
type State struct {
	ID         string
	Variant    string
	Config     RuleConfig
	Plan       []Phase
	PhaseIndex int
	Phase      Phase
	Round      int

	Board      *board.Board
	KoRef      *board.Board
	Seats      [2]Participant
	Colors     [2]board.Stone
	SeatToMove Seat
	Clock      gameclock.Clock
	History    []MoveRecord
	Setup      []SetupStone

	// Captured[s] counts seat s's stones removed by the opponent.
	Captured       [2]int
	CaptureTargets [2]int
	Komi           float64
	Passes         int

	Submissions   [2]*Submission
	Hidden        map[board.Point]Seat
	Revealed      [2]map[board.Point]bool
	ScansLeft     [2]int
	MissilesLeft  [2]int
	Curling       *CurlingState
	Proposal      *DeadProposal
	ScoringRounds int

	Disconnected  [2]bool
	ResumePhase   Phase
	PhaseDeadline time.Time

	Result         *TerminalResult
	NeedsAttention bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Version        int64

	eng *board.Engine
}

func (s *State) engine() *board.Engine {
	if s.eng == nil {
		s.eng = board.NewEngine(s.Board.Size())
	}
	return s.eng
}

// Clone deep-copies everything a handler may mutate.
func (s *State) Clone() *State {
	c := *s
	c.Config = s.Config.Clone()
	c.Plan = append([]Phase(nil), s.Plan...)
	c.Board = s.Board.Clone()
	c.KoRef = s.KoRef.Clone()
	c.History = append([]MoveRecord(nil), s.History...)
	c.Setup = append([]SetupStone(nil), s.Setup...)
	for i := range s.Submissions {
		if sub := s.Submissions[i]; sub != nil {
			cp := *sub
			cp.Points = append([]board.Point(nil), sub.Points...)
			c.Submissions[i] = &cp
		}
	}
	if s.Hidden != nil {
		c.Hidden = make(map[board.Point]Seat, len(s.Hidden))
		for p, seat := range s.Hidden {
			c.Hidden[p] = seat
		}
	}
	for i := range s.Revealed {
		if s.Revealed[i] != nil {
			c.Revealed[i] = make(map[board.Point]bool, len(s.Revealed[i]))
			for p := range s.Revealed[i] {
				c.Revealed[i][p] = true
			}
		}
	}
	if s.Curling != nil {
		cs := *s.Curling
		c.Curling = &cs
	}
	if s.Proposal != nil {
		p := *s.Proposal
		p.Dead = append([]board.Point(nil), s.Proposal.Dead...)
		c.Proposal = &p
	}
	if s.Result != nil {
		r := *s.Result
		c.Result = &r
	}
	return &c
}

// SeatOf returns the seat held by userID.
func (s *State) SeatOf(userID string) Seat {
	for i, p := range s.Seats {
		if !p.IsAI() && p.UserID != "" && p.UserID == userID {
			return Seat(i)
		}
	}
	return NoSeat
}

// SeatWithColor returns the seat playing colour c.
func (s *State) SeatWithColor(c board.Stone) Seat {
	for i, col := range s.Colors {
		if col == c {
			return Seat(i)
		}
	}
	return NoSeat
}

func (s *State) IsTerminal() bool { return s.Phase == PhaseTerminal }

// DueSeats lists the seats whose input the current phase is waiting for.
func (s *State) DueSeats() []Seat {
	switch s.Phase {
	case PhaseTerminal, PhaseDisconnected:
		return nil
	case PhaseNigiri:
		return []Seat{SeatB}
	case PhaseMainPlay, PhaseCurlingTiebreak:
		return []Seat{s.SeatToMove}
	case PhaseScoring:
		if s.Proposal == nil {
			return []Seat{SeatA, SeatB}
		}
		return []Seat{s.Proposal.By.Other()}
	}
	var due []Seat
	for i, sub := range s.Submissions {
		if sub == nil {
			due = append(due, Seat(i))
		}
	}
	return due
}

// NextDeadline is the earliest instant at which a system timeout is due.
func (s *State) NextDeadline() (time.Time, bool) {
	var out time.Time
	found := false
	if s.Phase == PhaseMainPlay || s.Phase == PhaseCurlingTiebreak {
		if dl, ok := s.Clock.Deadline(); ok {
			out, found = dl, true
		}
	}
	if !s.PhaseDeadline.IsZero() && (!found || s.PhaseDeadline.Before(out)) {
		out, found = s.PhaseDeadline, true
	}
	return out, found
}

// Prisoners is the number of opponent stones seat has captured.
func (s *State) Prisoners(seat Seat) int { return s.Captured[seat.Other()] }

// MovesPlayed counts main-play moves and passes.
func (s *State) MovesPlayed() int { return len(s.History) }
