// Package realtime pushes committed session state to WebSocket viewers.
// Each viewer gets its own masked snapshot, so hidden stones never leave
// the server for a seat that may not see them.
package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/goban-arena/internal/game"
	"github.com/park285/goban-arena/internal/matchmaking"
	"github.com/park285/goban-arena/internal/negotiation"
	"github.com/park285/goban-arena/pkg/arenadto"
)

type Options struct {
	// SendBuffer is the per-connection outbound queue; a viewer that falls
	// this far behind is disconnected.
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
	PingTimeout  time.Duration
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PingTimeout <= 0 {
		o.PingTimeout = 3 * time.Second
	}
	return o
}

type viewer struct {
	sessionID string
	userID    string
	seat      game.Seat
	ws        *websocket.Conn
	out       chan arenadto.ServerFrame
	done      chan struct{}
	once      sync.Once
}

func (v *viewer) close() {
	v.once.Do(func() { close(v.done) })
}

// Hub fans committed state out to the viewers of each session.
type Hub struct {
	clock  clock.Clock
	logger *zap.Logger
	opts   Options

	mu    sync.RWMutex
	rooms map[string]map[*viewer]struct{}
}

func NewHub(clk clock.Clock, logger *zap.Logger, opts Options) *Hub {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clock:  clk,
		logger: logger,
		opts:   opts.withDefaults(),
		rooms:  make(map[string]map[*viewer]struct{}),
	}
}

// Publish implements the session broadcaster. It never blocks on a viewer.
func (h *Hub) Publish(st *game.State, events []game.Event) {
	h.mu.RLock()
	room := h.rooms[st.ID]
	targets := make([]*viewer, 0, len(room))
	for v := range room {
		targets = append(targets, v)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	now := h.clock.Now()
	views := make(map[game.Seat]*game.Snapshot, 3)
	for _, v := range targets {
		snap, ok := views[v.seat]
		if !ok {
			snap = st.View(v.seat, now)
			views[v.seat] = snap
		}
		h.send(v, arenadto.ServerFrame{
			Type:    arenadto.FrameSnapshot,
			Session: snap,
			Events:  visibleEvents(events, v.seat),
		})
	}
}

// visibleEvents drops scan results addressed to the other seat.
func visibleEvents(events []game.Event, seat game.Seat) []game.Event {
	out := make([]game.Event, 0, len(events))
	for _, e := range events {
		if e.Kind == game.EventScan && e.Seat != seat {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (h *Hub) send(v *viewer, f arenadto.ServerFrame) {
	select {
	case <-v.done:
		return
	default:
	}
	select {
	case v.out <- f:
	default:
		h.logger.Warn("ws_slow_consumer",
			zap.String("session_id", v.sessionID),
			zap.String("user_id", v.userID))
		v.close()
		go func() { _ = v.ws.Close(websocket.StatusPolicyViolation, "slow consumer") }()
	}
}

func (h *Hub) join(v *viewer) (first bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[v.sessionID]
	if !ok {
		room = make(map[*viewer]struct{})
		h.rooms[v.sessionID] = room
	}
	first = v.userID != "" && !h.hasUserLocked(room, v.userID)
	room[v] = struct{}{}
	return first
}

// drop removes v and reports whether it was the user's last connection to
// the session.
func (h *Hub) drop(v *viewer) (last bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[v.sessionID]
	if !ok {
		return false
	}
	if _, ok := room[v]; !ok {
		return false
	}
	delete(room, v)
	if len(room) == 0 {
		delete(h.rooms, v.sessionID)
	}
	return v.userID != "" && !h.hasUserLocked(room, v.userID)
}

func (h *Hub) hasUserLocked(room map[*viewer]struct{}, userID string) bool {
	for o := range room {
		if o.userID == userID {
			return true
		}
	}
	return false
}

// Viewers is the number of open connections to a session.
func (h *Hub) Viewers(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// CloseAll disconnects every viewer, for shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	all := make([]*viewer, 0)
	for _, room := range h.rooms {
		for v := range room {
			all = append(all, v)
		}
	}
	h.rooms = make(map[string]map[*viewer]struct{})
	h.mu.Unlock()
	for _, v := range all {
		v.close()
		_ = v.ws.Close(websocket.StatusGoingAway, "server shutdown")
	}
}

// writeLoop owns all writes to v.ws.
func (h *Hub) writeLoop(ctx context.Context, v *viewer) {
	ping := time.NewTicker(h.opts.PingInterval)
	defer ping.Stop()
	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-v.done:
			return
		case f := <-v.out:
			wctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
			err := wsjson.Write(wctx, v.ws, f)
			cancel()
			if err != nil {
				h.logger.Debug("ws_write_error", zap.String("session_id", v.sessionID), zap.Error(err))
				v.close()
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, h.opts.PingTimeout)
			err := v.ws.Ping(pctx)
			cancel()
			if err == nil {
				failures = 0
				continue
			}
			failures++
			if failures >= 2 {
				h.logger.Info("ws_ping_timeout", zap.String("session_id", v.sessionID), zap.String("user_id", v.userID))
				v.close()
				_ = v.ws.Close(websocket.StatusGoingAway, "ping failure")
				return
			}
		}
	}
}

func inboxKey(userID string) string { return "inbox:" + userID }

func (h *Hub) toInbox(user string, f arenadto.ServerFrame) {
	h.mu.RLock()
	room := h.rooms[inboxKey(user)]
	targets := make([]*viewer, 0, len(room))
	for v := range room {
		targets = append(targets, v)
	}
	h.mu.RUnlock()
	for _, v := range targets {
		h.send(v, f)
	}
}

// Changed implements the negotiation notifier: both parties' inbox
// sockets receive the request as it now stands.
func (h *Hub) Changed(r negotiation.Request) {
	for _, u := range []string{r.Sender, r.Receiver} {
		h.toInbox(u, arenadto.ServerFrame{Type: arenadto.FrameNegotiation, Negotiation: r})
	}
}

// Matched implements the matchmaking notifier. Each user is told the
// session and who they face.
func (h *Hub) Matched(m matchmaking.Match) {
	for i, u := range m.Users {
		h.toInbox(u, arenadto.ServerFrame{Type: arenadto.FrameMatch, Match: &arenadto.MatchResponse{
			Matched:   true,
			SessionID: m.SessionID,
			Opponent:  m.Users[1-i],
		}})
	}
}
