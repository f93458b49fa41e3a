package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/park285/goban-arena/internal/adapter/arenapresenter"
	"github.com/park285/goban-arena/internal/game"
	"github.com/park285/goban-arena/pkg/arenadto"
)

// UserHeader carries the caller identity, set by the fronting gateway.
const UserHeader = "X-User-Id"

// Sessions is the slice of the session manager the socket needs.
type Sessions interface {
	State(id string) (*game.State, error)
	SnapshotFor(ctx context.Context, id, userID string) (*game.Snapshot, error)
	ApplyUserAction(ctx context.Context, id, userID string, a game.Action) (*game.Snapshot, error)
	Presence(ctx context.Context, id, userID string, connected bool) error
}

// Negotiations and Queue are cleaned up when a user's last inbox socket
// closes.
type Negotiations interface {
	CancelAllFor(user, reason string) int
}

type Queue interface {
	Dequeue(ctx context.Context, userID string) (bool, error)
}

type ServerOptions struct {
	// OriginPatterns are passed to websocket.Accept; empty means same-origin only.
	OriginPatterns []string
	Gatherer       prometheus.Gatherer
	Negotiations   Negotiations
	Queue          Queue
	// CleanupTimeout bounds the queue removal after a disconnect.
	CleanupTimeout time.Duration
}

// Server serves the session and inbox sockets plus the metrics and health
// endpoints.
type Server struct {
	hub      *Hub
	sessions Sessions
	logger   *zap.Logger
	opts     ServerOptions
	validate *validator.Validate
	router   *mux.Router
}

func NewServer(hub *Hub, sessions Sessions, logger *zap.Logger, opts ServerOptions) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.CleanupTimeout <= 0 {
		opts.CleanupTimeout = 3 * time.Second
	}
	s := &Server{
		hub:      hub,
		sessions: sessions,
		logger:   logger,
		opts:     opts,
		validate: validator.New(),
	}
	r := mux.NewRouter()
	r.HandleFunc("/ws/sessions/{id}", s.handleSession).Methods(http.MethodGet)
	r.HandleFunc("/ws/inbox", s.handleInbox).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// userOf reads the caller identity. Browsers cannot set handshake headers,
// so a user_id query parameter is accepted as well.
func userOf(r *http.Request) string {
	if u := strings.TrimSpace(r.Header.Get(UserHeader)); u != "" {
		return u
	}
	return strings.TrimSpace(r.URL.Query().Get("user_id"))
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(arenapresenter.HTTPStatus(err))
	_ = json.NewEncoder(w).Encode(arenadto.ErrorResponse{Error: arenapresenter.ToDomainError(err)})
}

func (s *Server) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:  s.opts.OriginPatterns,
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	user := userOf(r)
	st, err := s.sessions.State(id)
	if err != nil {
		writeError(w, err)
		return
	}
	seat := st.SeatOf(user)

	c, err := s.accept(w, r)
	if err != nil {
		s.logger.Debug("ws_accept_error", zap.String("session_id", id), zap.Error(err))
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	v := &viewer{
		sessionID: id,
		userID:    user,
		seat:      seat,
		ws:        c,
		out:       make(chan arenadto.ServerFrame, s.hub.opts.SendBuffer),
		done:      make(chan struct{}),
	}
	first := s.hub.join(v)
	s.logger.Info("ws_join",
		zap.String("session_id", id),
		zap.String("user_id", user),
		zap.String("seat", seat.String()))

	seated := seat.Valid()
	if seated && first {
		if err := s.sessions.Presence(ctx, id, user, true); err != nil {
			s.logger.Warn("presence_error", zap.String("session_id", id), zap.String("user_id", user), zap.Error(err))
		}
	}
	s.sendSnapshot(ctx, v)
	go s.hub.writeLoop(ctx, v)

	status := s.readLoop(ctx, v)

	v.close()
	last := s.hub.drop(v)
	if seated && last {
		if err := s.sessions.Presence(context.WithoutCancel(ctx), id, user, false); err != nil {
			s.logger.Warn("presence_error", zap.String("session_id", id), zap.String("user_id", user), zap.Error(err))
		}
	}
	_ = c.Close(status, "")
	s.logger.Info("ws_leave", zap.String("session_id", id), zap.String("user_id", user))
}

func (s *Server) sendSnapshot(ctx context.Context, v *viewer) {
	snap, err := s.sessions.SnapshotFor(ctx, v.sessionID, v.userID)
	if err != nil {
		s.sendError(v, err)
		return
	}
	s.hub.send(v, arenadto.ServerFrame{Type: arenadto.FrameSnapshot, Session: snap})
}

func (s *Server) sendError(v *viewer, err error) {
	de := arenapresenter.ToDomainError(err)
	s.hub.send(v, arenadto.ServerFrame{Type: arenadto.FrameError, Error: &de})
}

// readLoop handles inbound frames until the peer leaves. Actions are
// answered only on failure; success reaches every viewer through Publish.
func (s *Server) readLoop(ctx context.Context, v *viewer) websocket.StatusCode {
	for {
		var f arenadto.ClientFrame
		if err := wsjson.Read(ctx, v.ws, &f); err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) {
				return websocket.StatusNormalClosure
			}
			select {
			case <-v.done:
				return websocket.StatusGoingAway
			default:
			}
			if ctx.Err() == nil {
				s.logger.Debug("ws_read_error", zap.String("session_id", v.sessionID), zap.Error(err))
			}
			return websocket.StatusGoingAway
		}

		switch f.Type {
		case arenadto.FrameJoin:
			s.sendSnapshot(ctx, v)
			continue
		case arenadto.FrameLeave:
			return websocket.StatusNormalClosure
		}

		if !v.seat.Valid() {
			s.sendError(v, game.ErrWrongTurn.Withf("spectators cannot act"))
			continue
		}
		req := f.ActionRequest
		if req.Kind == "" {
			req.Kind = f.Type
		}
		if err := s.validate.Struct(req); err != nil {
			s.sendError(v, arenapresenter.ErrBadRequest.Wrap(err))
			continue
		}
		if _, err := s.sessions.ApplyUserAction(ctx, v.sessionID, v.userID, arenapresenter.ToAction(req)); err != nil {
			s.sendError(v, err)
		}
	}
}

// handleInbox serves the per-user socket that receives negotiation and
// match updates. It doubles as the user's presence: when the last inbox
// socket closes, open negotiations are cancelled and the queue entry is
// removed.
func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	user := userOf(r)
	if user == "" {
		writeError(w, game.ErrSeatUnavailable.Withf("%s header required", UserHeader))
		return
	}
	c, err := s.accept(w, r)
	if err != nil {
		return
	}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	v := &viewer{
		sessionID: inboxKey(user),
		userID:    user,
		seat:      game.NoSeat,
		ws:        c,
		out:       make(chan arenadto.ServerFrame, s.hub.opts.SendBuffer),
		done:      make(chan struct{}),
	}
	s.hub.join(v)
	go s.hub.writeLoop(ctx, v)

	// inbound frames are ignored; reading keeps pings and close handshakes flowing
	for {
		if _, _, err := c.Read(ctx); err != nil {
			break
		}
	}
	v.close()
	_ = c.Close(websocket.StatusNormalClosure, "")
	if s.hub.drop(v) {
		s.userGone(context.WithoutCancel(ctx), user)
	}
}

func (s *Server) userGone(ctx context.Context, user string) {
	cancelled := 0
	if s.opts.Negotiations != nil {
		cancelled = s.opts.Negotiations.CancelAllFor(user, "disconnect")
	}
	dequeued := false
	if s.opts.Queue != nil {
		ctx, cancel := context.WithTimeout(ctx, s.opts.CleanupTimeout)
		defer cancel()
		var err error
		if dequeued, err = s.opts.Queue.Dequeue(ctx, user); err != nil {
			s.logger.Warn("inbox_dequeue_error", zap.String("user_id", user), zap.Error(err))
		}
	}
	s.logger.Info("inbox_gone",
		zap.String("user_id", user),
		zap.Int("negotiations_cancelled", cancelled),
		zap.Bool("dequeued", dequeued))
}
