package arenadto

import "time"

type SessionCreatedResponse struct {
	SessionID string `json:"session_id"`
	Session   any    `json:"session,omitempty"`
}

type MatchResponse struct {
	Matched   bool   `json:"matched"`
	SessionID string `json:"session_id,omitempty"`
	Opponent  string `json:"opponent,omitempty"`
	Queued    bool   `json:"queued"`
}

type RatingResponse struct {
	UserID string  `json:"user_id"`
	Season string  `json:"season"`
	Mode   string  `json:"mode"`
	Rating float64 `json:"rating"`
	Wins   int     `json:"wins"`
	Losses int     `json:"losses"`
	Draws  int     `json:"draws"`
	Games  int     `json:"games"`
}

type GameRecordResponse struct {
	SessionID string       `json:"session_id"`
	Variant   string       `json:"variant"`
	BoardSize int          `json:"board_size"`
	SeatA     string       `json:"seat_a"`
	SeatB     string       `json:"seat_b"`
	StartedAt time.Time    `json:"started_at"`
	Result    string       `json:"result,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	SGF       string       `json:"sgf,omitempty"`
	Moves     []RecordMove `json:"moves,omitempty"`
}

// RecordMove is one stored main-play action.
type RecordMove struct {
	Seq   int    `json:"seq"`
	Color string `json:"color"`
	Kind  string `json:"kind"`
	X     int    `json:"x"`
	Y     int    `json:"y"`
}
