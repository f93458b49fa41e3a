package negotiation

import (
	"context"
	"time"

	"github.com/park285/goban-arena/internal/game"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusRejected  Status = "REJECTED"
	StatusModified  Status = "MODIFIED"
	StatusExpired   Status = "EXPIRED"
	StatusCancelled Status = "CANCELLED"
)

// Expiry dispositions.
const (
	DispositionAutoReject = "auto_reject"
	DispositionAutoCancel = "auto_cancel"
)

// Request is a copy of a negotiation as seen by callers. Sender is the
// party awaiting an answer; Receiver is due to respond. A Modify swaps them.
type Request struct {
	ID          string          `json:"id"`
	Origin      string          `json:"origin"`
	Sender      string          `json:"sender"`
	Receiver    string          `json:"receiver"`
	Proposal    game.RuleConfig `json:"proposal"`
	Status      Status          `json:"status"`
	Round       int             `json:"round"`
	CreatedAt   time.Time       `json:"created_at"`
	Deadline    time.Time       `json:"deadline"`
	SessionID   string          `json:"session_id,omitempty"`
	Disposition string          `json:"disposition,omitempty"`
}

func (r Request) Involves(user string) bool { return r.Sender == user || r.Receiver == user }

// SessionCreator starts the session once a proposal is accepted.
type SessionCreator interface {
	CreateSession(ctx context.Context, cfg game.RuleConfig, seats [2]game.Participant) (string, error)
}

// Notifier hears every status change, including the transient Modified.
// Changed runs under the manager lock and must not call back into it.
type Notifier interface {
	Changed(r Request)
}

var (
	ErrNotFound       = &game.Error{Kind: game.KindResource, Code: "NEGOTIATION_NOT_FOUND", Message: "negotiation not found"}
	ErrNotParticipant = &game.Error{Kind: game.KindResource, Code: "NOT_YOUR_NEGOTIATION", Message: "not a party to this negotiation"}
	ErrAlreadyPending = &game.Error{Kind: game.KindValidation, Code: "NEGOTIATION_PENDING", Message: "a request to this user is already pending"}
	ErrNotPending     = &game.Error{Kind: game.KindValidation, Code: "NEGOTIATION_CLOSED", Message: "negotiation is no longer pending"}
	ErrInvalidArgs    = &game.Error{Kind: game.KindValidation, Code: "INVALID_NEGOTIATION", Message: "invalid negotiation arguments"}
)
