package game

import (
	"time"

	"github.com/park285/goban-arena/internal/board"
	"github.com/park285/goban-arena/internal/gameclock"
)

// Snapshot is a read-only view of a session for one viewer. Hidden stones
// the viewer has not seen are blanked out.
type Snapshot struct {
	ID             string                 `json:"id"`
	Variant        string                 `json:"variant"`
	BoardSize      int                    `json:"board_size"`
	Phase          Phase                  `json:"phase"`
	Round          int                    `json:"round"`
	Rows           []string               `json:"rows"`
	Viewer         Seat                   `json:"viewer"`
	SeatToMove     Seat                   `json:"seat_to_move"`
	Due            []Seat                 `json:"due,omitempty"`
	Seats          [2]Participant         `json:"seats"`
	Colors         [2]string              `json:"colors"`
	Clocks         [2]gameclock.SeatClock `json:"clocks"`
	Captured       [2]int                 `json:"captured"`
	CaptureTargets [2]int                 `json:"capture_targets"`
	Komi           float64                `json:"komi"`
	ScansLeft      [2]int                 `json:"scans_left"`
	MissilesLeft   [2]int                 `json:"missiles_left"`
	Submitted      [2]bool                `json:"submitted"`
	Curling        *CurlingState          `json:"curling,omitempty"`
	Proposal       *DeadProposal          `json:"proposal,omitempty"`
	Disconnected   [2]bool                `json:"disconnected"`
	PhaseDeadline  *time.Time             `json:"phase_deadline,omitempty"`
	History        []MoveRecord           `json:"history"`
	Result         *TerminalResult        `json:"result,omitempty"`
	NeedsAttention bool                   `json:"needs_attention,omitempty"`
	Config         RuleConfig             `json:"config"`
	Version        int64                  `json:"version"`
}

// View builds the snapshot seen by viewer (NoSeat for spectators).
func (s *State) View(viewer Seat, now time.Time) *Snapshot {
	b := s.Board.Clone()
	for p, owner := range s.Hidden {
		if owner == viewer {
			continue
		}
		if viewer.Valid() && s.Revealed[viewer][p] {
			continue
		}
		_ = b.Put(p, board.Empty)
	}
	snap := &Snapshot{
		ID:             s.ID,
		Variant:        s.Variant,
		BoardSize:      s.Board.Size(),
		Phase:          s.Phase,
		Round:          s.Round,
		Rows:           b.Rows(),
		Viewer:         viewer,
		SeatToMove:     s.SeatToMove,
		Due:            s.DueSeats(),
		Seats:          s.Seats,
		Colors:         [2]string{s.Colors[0].String(), s.Colors[1].String()},
		Clocks:         [2]gameclock.SeatClock{s.Clock.Remaining(0, now), s.Clock.Remaining(1, now)},
		Captured:       s.Captured,
		CaptureTargets: s.CaptureTargets,
		Komi:           s.Komi,
		ScansLeft:      s.ScansLeft,
		MissilesLeft:   s.MissilesLeft,
		Submitted:      [2]bool{s.Submissions[0] != nil, s.Submissions[1] != nil},
		Disconnected:   s.Disconnected,
		History:        append([]MoveRecord(nil), s.History...),
		NeedsAttention: s.NeedsAttention,
		Config:         s.Config.Clone(),
		Version:        s.Version,
	}
	if s.Curling != nil {
		cs := *s.Curling
		snap.Curling = &cs
	}
	if s.Proposal != nil {
		p := *s.Proposal
		p.Dead = append([]board.Point(nil), s.Proposal.Dead...)
		snap.Proposal = &p
	}
	if !s.PhaseDeadline.IsZero() {
		dl := s.PhaseDeadline
		snap.PhaseDeadline = &dl
	}
	if s.Result != nil {
		r := *s.Result
		snap.Result = &r
	}
	return snap
}
