package game

import (
	"time"

	"github.com/park285/goban-arena/internal/board"
)

// Seat identifies one of the two participants.
type Seat int

const (
	NoSeat Seat = -1
	SeatA  Seat = 0
	SeatB  Seat = 1
)

func (s Seat) Valid() bool { return s == SeatA || s == SeatB }

func (s Seat) Other() Seat {
	switch s {
	case SeatA:
		return SeatB
	case SeatB:
		return SeatA
	}
	return NoSeat
}

func (s Seat) String() string {
	switch s {
	case SeatA:
		return "A"
	case SeatB:
		return "B"
	}
	return "-"
}

// Participant is a human user or an AI engine occupying a seat.
type Participant struct {
	UserID string `json:"user_id,omitempty"`
	Engine string `json:"engine,omitempty"`
	Level  int    `json:"level,omitempty"`
}

func (p Participant) IsAI() bool { return p.Engine != "" }

// Phase is the session's position in its lifecycle.
type Phase string

const (
	PhaseNigiri             Phase = "nigiri"
	PhaseKomiBid            Phase = "komi_bid"
	PhaseCaptureBid         Phase = "capture_bid"
	PhaseCaptureBidTiebreak Phase = "capture_bid_tiebreak"
	PhaseBasePlacement      Phase = "base_placement"
	PhaseHiddenPlacement    Phase = "hidden_placement"
	PhaseDiceRoll           Phase = "dice_roll"
	PhaseRPS                Phase = "rps"
	PhaseTokenPlacement     Phase = "token_placement"
	PhaseMainPlay           Phase = "main_play"
	PhaseCurlingTiebreak    Phase = "curling_tiebreak"
	PhaseScoring            Phase = "scoring"
	PhaseDisconnected       Phase = "disconnected"
	PhaseTerminal           Phase = "terminal"
)

// IsSetup reports whether p is one of the pre-game phases.
func (p Phase) IsSetup() bool {
	switch p {
	case PhaseNigiri, PhaseKomiBid, PhaseCaptureBid, PhaseCaptureBidTiebreak,
		PhaseBasePlacement, PhaseHiddenPlacement, PhaseDiceRoll, PhaseRPS, PhaseTokenPlacement:
		return true
	}
	return false
}

// ActionKind names an input to the phase machine.
type ActionKind string

const (
	ActMove        ActionKind = "move"
	ActPass        ActionKind = "pass"
	ActResign      ActionKind = "resign"
	ActNigiriGuess ActionKind = "nigiri_guess"
	ActBid         ActionKind = "bid"
	ActPlaceSetup  ActionKind = "place_setup"
	ActRoll        ActionKind = "roll"
	ActRPS         ActionKind = "rps"
	ActScan        ActionKind = "scan"
	ActMissile     ActionKind = "missile"
	ActFlick       ActionKind = "flick"
	ActMarkDead    ActionKind = "mark_dead"
	ActAcceptScore ActionKind = "accept_score"
	ActDisconnect  ActionKind = "disconnect"
	ActReconnect   ActionKind = "reconnect"
	ActTimeout     ActionKind = "timeout"
)

// RPS choices.
const (
	Rock     = 0
	Paper    = 1
	Scissors = 2
)

// Action is one player or system input. Only the fields relevant to Kind
// are read.
type Action struct {
	Kind      ActionKind      `json:"kind"`
	Point     board.Point     `json:"point"`
	To        board.Point     `json:"to"`
	Points    []board.Point   `json:"points,omitempty"`
	Direction board.Direction `json:"direction,omitempty"`
	Value     int             `json:"value"`
	System    bool            `json:"-"`
}

// MoveRecord is one applied main-play action. Captured is derived by the
// board engine.
type MoveRecord struct {
	Seq      int           `json:"seq"`
	Seat     Seat          `json:"seat"`
	Color    board.Stone   `json:"color"`
	Kind     ActionKind    `json:"kind"`
	Point    board.Point   `json:"point"`
	To       board.Point   `json:"to"`
	At       time.Time     `json:"at"`
	Captured []board.Point `json:"captured,omitempty"`
}

// SetupStone is a stone placed during a setup phase.
type SetupStone struct {
	Seat   Seat        `json:"seat"`
	Point  board.Point `json:"point"`
	Hidden bool        `json:"hidden,omitempty"`
}

type ResultKind string

const (
	ResultWin       ResultKind = "win"
	ResultDraw      ResultKind = "draw"
	ResultNoContest ResultKind = "no_contest"
)

// Terminal reasons.
const (
	ReasonResign        = "resign"
	ReasonTimeout       = "timeout"
	ReasonDoublePass    = "double_pass"
	ReasonCaptureTarget = "capture_target"
	ReasonFiveInRow     = "five_in_row"
	ReasonTurnLimit     = "turn_limit"
	ReasonBoardFull     = "board_full"
	ReasonLastToken     = "last_token"
	ReasonCurling       = "curling"
	ReasonScore         = "score"
	ReasonForcedCount   = "forced_count"
	ReasonDisconnect    = "disconnect"
	ReasonAdmin         = "admin"
)

// TerminalResult is set exactly once, on entry to PhaseTerminal.
type TerminalResult struct {
	Kind   ResultKind   `json:"kind"`
	Winner Seat         `json:"winner"`
	Reason string       `json:"reason"`
	Score  *board.Score `json:"score,omitempty"`
	At     time.Time    `json:"at"`
}

// ScoreFor returns the Elo actual score (1, 0.5, 0) for seat.
func (r TerminalResult) ScoreFor(seat Seat) float64 {
	switch r.Kind {
	case ResultWin:
		if r.Winner == seat {
			return 1
		}
		return 0
	default:
		return 0.5
	}
}

// DeadProposal is one round of the dead-stone agreement loop.
type DeadProposal struct {
	By    Seat          `json:"by"`
	Dead  []board.Point `json:"dead"`
	Round int           `json:"round"`
}

type EventKind string

const (
	EventPhase    EventKind = "phase"
	EventMove     EventKind = "move"
	EventSetup    EventKind = "setup"
	EventScan     EventKind = "scan"
	EventProposal EventKind = "proposal"
	EventPresence EventKind = "presence"
	EventTerminal EventKind = "terminal"
)

// Event describes one committed change, for broadcast and persistence.
type Event struct {
	Kind EventKind   `json:"kind"`
	Seat Seat        `json:"seat"`
	From Phase       `json:"from,omitempty"`
	To   Phase       `json:"to,omitempty"`
	Move *MoveRecord `json:"move,omitempty"`
	Note string      `json:"note,omitempty"`
}
