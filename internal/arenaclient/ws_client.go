package arenaclient

import (
	"encoding/json"

	"github.com/park285/goban-arena/internal/game"
	"github.com/park285/goban-arena/pkg/arenadto"
)

type SocketState string

const (
	StateDisconnected SocketState = "disconnected"
	StateConnecting   SocketState = "connecting"
	StateConnected    SocketState = "connected"
	StateReconnecting SocketState = "reconnecting"
	StateFailed       SocketState = "failed"
)

// Frame is a decoded server frame. Session is set on snapshot frames,
// Negotiation and Match on inbox frames.
type Frame struct {
	Type        string                  `json:"type"`
	Session     *game.Snapshot          `json:"session,omitempty"`
	Events      []game.Event            `json:"events,omitempty"`
	Negotiation json.RawMessage         `json:"negotiation,omitempty"`
	Match       *arenadto.MatchResponse `json:"match,omitempty"`
	Error       *arenadto.DomainError   `json:"error,omitempty"`
}

type FrameCallback func(f *Frame)

type StateCallback func(state SocketState)
