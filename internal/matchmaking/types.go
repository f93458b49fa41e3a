package matchmaking

import (
	"context"
	"time"

	"github.com/park285/goban-arena/internal/game"
)

// Entry is one waiting user, stored as JSON in the queue hash.
type Entry struct {
	UserID    string    `json:"user_id"`
	Variant   string    `json:"variant"`
	BoardSize int       `json:"board_size"`
	Rating    float64   `json:"rating"`
	JoinedAt  time.Time `json:"joined_at"`
}

// SessionCreator starts the session for a matched pair.
type SessionCreator interface {
	CreateSession(ctx context.Context, cfg game.RuleConfig, seats [2]game.Participant) (string, error)
}

// Match is announced once the paired session exists.
type Match struct {
	SessionID string
	Users     [2]string
}

// Notifier hears every pairing. It must not block.
type Notifier interface {
	Matched(m Match)
}

// Result of a match attempt.
type Result struct {
	SessionID string
	Opponent  string
	Matched   bool
}

var (
	ErrInvalidEntry = errf("invalid queue entry")
	ErrContention   = errf("matchmaking queue contention")
)

type staticErr string

func (e staticErr) Error() string { return string(e) }
func errf(s string) error         { return staticErr(s) }
