package arenadto

// Client frame types on /ws/sessions/{id}. Any other type is read as an
// action kind (move, pass, resign, bid, ...).
const (
	FrameJoin  = "join"
	FrameLeave = "leave"
)

// Server frame types.
const (
	FrameSnapshot    = "snapshot"
	FrameError       = "error"
	FrameNegotiation = "negotiation"
	FrameMatch       = "match"
)

// ClientFrame is one inbound WebSocket message. For action frames the
// fields follow ActionRequest.
type ClientFrame struct {
	Type string `json:"type"`
	ActionRequest
}

// ServerFrame is one outbound WebSocket message. Session carries the
// viewer's masked snapshot; Negotiation and Match are only sent on the
// inbox socket.
type ServerFrame struct {
	Type        string         `json:"type"`
	Session     any            `json:"session,omitempty"`
	Events      any            `json:"events,omitempty"`
	Negotiation any            `json:"negotiation,omitempty"`
	Match       *MatchResponse `json:"match,omitempty"`
	Error       *DomainError   `json:"error,omitempty"`
}
