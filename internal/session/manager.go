// Package session owns live sessions. Each session is a slot with its own
// mutex, so actions on one session are strictly ordered while different
// sessions proceed in parallel.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/park285/goban-arena/internal/economy"
	"github.com/park285/goban-arena/internal/game"
	"github.com/park285/goban-arena/internal/metrics"
	"github.com/park285/goban-arena/internal/rating"
)

type Options struct {
	// AIAttempts bounds engine calls per AI turn before falling back to a pass.
	AIAttempts      int
	ReclaimAfter    time.Duration
	ArchiveSize     int
	RatingTimeout   time.Duration
	TicketsRequired bool
	Season          string
}

func (o Options) withDefaults() Options {
	if o.AIAttempts <= 0 {
		o.AIAttempts = 2
	}
	if o.ReclaimAfter <= 0 {
		o.ReclaimAfter = 10 * time.Minute
	}
	if o.ArchiveSize <= 0 {
		o.ArchiveSize = 1024
	}
	if o.RatingTimeout <= 0 {
		o.RatingTimeout = 3 * time.Second
	}
	return o
}

// Deps are the manager's collaborators. Only Machine is required.
type Deps struct {
	Machine      *game.Machine
	Broadcaster  Broadcaster
	Recorder     Recorder
	Entitlements Entitlements
	Ratings      RatingUpdater
	AI           AIBridge
	Clock        clock.Clock
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

type slot struct {
	mu sync.Mutex
	st *game.State
	// view mirrors st for readers that must not wait on an AI turn.
	view atomic.Pointer[game.State]
}

func newSlot(st *game.State) *slot {
	sl := &slot{st: st}
	sl.view.Store(st)
	return sl
}

type Manager struct {
	machine *game.Machine
	bc      Broadcaster
	rec     Recorder
	ent     Entitlements
	ratings RatingUpdater
	ai      AIBridge
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
	opts    Options

	mu      sync.RWMutex
	slots   map[string]*slot
	archive *lru.Cache[string, *game.State]
}

var ErrMachineRequired = errors.New("session: machine required")

func NewManager(d Deps, opts Options) (*Manager, error) {
	if d.Machine == nil {
		return nil, ErrMachineRequired
	}
	opts = opts.withDefaults()
	archive, err := lru.New[string, *game.State](opts.ArchiveSize)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		machine: d.Machine,
		bc:      d.Broadcaster,
		rec:     d.Recorder,
		ent:     d.Entitlements,
		ratings: d.Ratings,
		ai:      d.AI,
		clock:   d.Clock,
		logger:  d.Logger,
		metrics: d.Metrics,
		opts:    opts,
		slots:   make(map[string]*slot),
		archive: archive,
	}
	if m.bc == nil {
		m.bc = NopBroadcaster{}
	}
	if m.rec == nil {
		m.rec = NopRecorder{}
	}
	if m.ent == nil {
		m.ent = economy.Unlimited{}
	}
	if m.clock == nil {
		m.clock = clock.New()
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	return m, nil
}

func (m *Manager) Machine() *game.Machine { return m.machine }

// CreateRequest describes a session to start. Config may be partial; unset
// fields are filled from the variant defaults.
type CreateRequest struct {
	Config game.RuleConfig
	Seats  [2]game.Participant
}

// Create validates the request, takes one ticket per human seat and starts
// the session in its first phase.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (string, error) {
	cfg, err := m.machine.Complete(req.Config)
	if err != nil {
		return "", err
	}
	if req.Seats[0].IsAI() || req.Seats[1].IsAI() {
		if err := m.checkAISeats(cfg, req.Seats); err != nil {
			return "", err
		}
	}

	var consumed []string
	refund := func() {
		for _, u := range consumed {
			if err := m.ent.Refund(context.WithoutCancel(ctx), u); err != nil {
				m.logger.Error("ticket_refund_error", zap.String("user_id", u), zap.Error(err))
			}
		}
	}
	if m.opts.TicketsRequired {
		for _, p := range req.Seats {
			if p.IsAI() || p.UserID == "" {
				continue
			}
			if err := m.ent.Consume(ctx, p.UserID); err != nil {
				refund()
				if errors.Is(err, economy.ErrInsufficient) {
					return "", game.ErrInsufficientEntitlement.Withf("user %s has no tickets", p.UserID)
				}
				return "", game.ErrInsufficientEntitlement.Wrap(err)
			}
			consumed = append(consumed, p.UserID)
		}
	}

	id := uuid.NewString()
	now := m.clock.Now()
	st, events, err := m.machine.NewState(id, cfg, req.Seats, now)
	if err != nil {
		refund()
		return "", err
	}

	sl := newSlot(st)
	sl.mu.Lock()
	defer sl.mu.Unlock()
	m.mu.Lock()
	m.slots[id] = sl
	m.mu.Unlock()

	m.metrics.SessionCreated(st.Variant)
	m.logger.Info("session_create",
		zap.String("session_id", id),
		zap.String("variant", st.Variant),
		zap.Int("board_size", st.Config.BoardSize),
		zap.String("seat_a", describe(st.Seats[0])),
		zap.String("seat_b", describe(st.Seats[1])),
		zap.Bool("ranked", st.Config.Ranked))
	m.rec.RecordStart(st)
	m.bc.Publish(st, events)
	m.driveAI(ctx, sl)
	return id, nil
}

// CreateSession adapts Create for matchmaking and negotiation.
func (m *Manager) CreateSession(ctx context.Context, cfg game.RuleConfig, seats [2]game.Participant) (string, error) {
	return m.Create(ctx, CreateRequest{Config: cfg, Seats: seats})
}

func (m *Manager) checkAISeats(cfg game.RuleConfig, seats [2]game.Participant) error {
	v, _ := m.machine.Catalog().Get(cfg.Variant)
	if v == nil || !v.Allows(string(game.ActMove)) {
		return game.ErrInvalidConfig.Withf("variant %s cannot seat an ai engine", cfg.Variant)
	}
	if cfg.Ranked {
		return game.ErrInvalidConfig.Withf("ai sessions are unranked")
	}
	if m.ai == nil {
		return game.ErrAIUnavailable
	}
	if h, ok := m.ai.(interface{ Has(string) bool }); ok {
		for _, p := range seats {
			if p.IsAI() && !h.Has(p.Engine) {
				return game.ErrAIUnavailable.Withf("unknown engine %q", p.Engine)
			}
		}
	}
	return nil
}

func (m *Manager) lookup(id string) (*slot, error) {
	m.mu.RLock()
	sl, ok := m.slots[id]
	m.mu.RUnlock()
	if !ok {
		return nil, game.ErrSessionNotFound
	}
	return sl, nil
}

// Apply runs one action for seat. A rejected action leaves the session
// untouched; a timing failure commits the forced transition and still
// returns the error.
func (m *Manager) Apply(ctx context.Context, id string, seat game.Seat, a game.Action) (*game.Snapshot, error) {
	sl, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	now := m.clock.Now()
	next, events, err := m.machine.Apply(sl.st, seat, a, now)
	m.metrics.Action(string(a.Kind), game.CodeOf(err))
	if next == nil {
		m.logger.Debug("session_action_rejected",
			zap.String("session_id", id),
			zap.String("seat", seat.String()),
			zap.String("kind", string(a.Kind)),
			zap.Error(err))
		return nil, err
	}
	m.commit(ctx, sl, next, events)
	m.driveAI(ctx, sl)
	return sl.st.View(seat, m.clock.Now()), err
}

// ApplyUserAction resolves userID to a seat and applies a player action.
// Presence and timeouts are server-side only.
func (m *Manager) ApplyUserAction(ctx context.Context, id, userID string, a game.Action) (*game.Snapshot, error) {
	switch a.Kind {
	case game.ActDisconnect, game.ActReconnect, game.ActTimeout:
		return nil, game.ErrInvalidPhaseAction.Withf("%s is not a player action", a.Kind)
	}
	seat, err := m.seatOf(id, userID)
	if err != nil {
		return nil, err
	}
	if seat == game.NoSeat {
		return nil, game.ErrWrongTurn.Withf("spectator %s cannot act", userID)
	}
	a.System = false
	return m.Apply(ctx, id, seat, a)
}

// Presence records a seated user's connection change. Spectators are
// ignored.
func (m *Manager) Presence(ctx context.Context, id, userID string, connected bool) error {
	seat, err := m.seatOf(id, userID)
	if err != nil || seat == game.NoSeat {
		return err
	}
	kind := game.ActDisconnect
	if connected {
		kind = game.ActReconnect
	}
	_, err = m.Apply(ctx, id, seat, game.Action{Kind: kind, System: true})
	if err != nil && game.CodeOf(err) == game.ErrInvalidPhaseAction.Code {
		// finished sessions take no presence updates
		return nil
	}
	return err
}

func (m *Manager) seatOf(id, userID string) (game.Seat, error) {
	st, err := m.State(id)
	if err != nil {
		return game.NoSeat, err
	}
	return st.SeatOf(userID), nil
}

// State returns the committed state of a live or archived session. The
// returned value must be treated as read-only.
func (m *Manager) State(id string) (*game.State, error) {
	sl, err := m.lookup(id)
	if err != nil {
		if st, ok := m.archive.Get(id); ok {
			return st, nil
		}
		return nil, err
	}
	return sl.view.Load(), nil
}

// Snapshot is the read-only re-entry view for viewer.
func (m *Manager) Snapshot(_ context.Context, id string, viewer game.Seat) (*game.Snapshot, error) {
	st, err := m.State(id)
	if err != nil {
		return nil, err
	}
	return st.View(viewer, m.clock.Now()), nil
}

// SnapshotFor is Snapshot with the viewer resolved from userID.
func (m *Manager) SnapshotFor(ctx context.Context, id, userID string) (*game.Snapshot, error) {
	st, err := m.State(id)
	if err != nil {
		return nil, err
	}
	return st.View(st.SeatOf(userID), m.clock.Now()), nil
}

// Terminate ends a live session as a no-contest.
func (m *Manager) Terminate(ctx context.Context, id, reason string) error {
	sl, err := m.lookup(id)
	if err != nil {
		return err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	next, events, err := m.machine.Terminate(sl.st, reason, m.clock.Now())
	if err != nil {
		return err
	}
	m.commit(ctx, sl, next, events)
	return nil
}

// Close finishes the session if needed and moves it to the archive.
func (m *Manager) Close(ctx context.Context, id string) error {
	sl, err := m.lookup(id)
	if err != nil {
		return err
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if !sl.st.IsTerminal() {
		next, events, err := m.machine.Terminate(sl.st, game.ReasonAdmin, m.clock.Now())
		if err != nil {
			return err
		}
		m.commit(ctx, sl, next, events)
	}
	m.release(id, sl.st)
	return nil
}

// release archives st and drops the live slot. Caller holds the slot lock.
func (m *Manager) release(id string, st *game.State) {
	m.archive.Add(id, st)
	m.mu.Lock()
	_, live := m.slots[id]
	delete(m.slots, id)
	m.mu.Unlock()
	if live {
		m.metrics.SessionReleased()
		m.logger.Info("session_release", zap.String("session_id", id))
	}
}

// commit installs next as the authoritative state and notifies
// collaborators. Caller holds the slot lock.
func (m *Manager) commit(ctx context.Context, sl *slot, next *game.State, events []game.Event) {
	prev := sl.st
	sl.st = next
	sl.view.Store(next)
	for _, e := range events {
		if e.Kind == game.EventMove && e.Move != nil {
			m.rec.RecordMove(next.ID, *e.Move)
		}
	}
	m.bc.Publish(next, events)
	if next.IsTerminal() && !prev.IsTerminal() {
		m.finished(ctx, next)
	}
}

func (m *Manager) finished(ctx context.Context, st *game.State) {
	r := st.Result
	m.metrics.SessionFinished(st.Variant, string(r.Kind), r.Reason)
	m.logger.Info("session_terminal",
		zap.String("session_id", st.ID),
		zap.String("variant", st.Variant),
		zap.String("result", string(r.Kind)),
		zap.String("winner", r.Winner.String()),
		zap.String("reason", r.Reason),
		zap.Int("moves", st.MovesPlayed()))
	m.rec.RecordResult(st)

	if m.ratings == nil || !st.Config.Ranked || r.Kind == game.ResultNoContest {
		return
	}
	if st.Seats[0].IsAI() || st.Seats[1].IsAI() {
		return
	}
	season := st.Config.Season
	if season == "" {
		season = m.opts.Season
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.RatingTimeout)
	defer cancel()
	_, _, _, err := m.ratings.Apply(rctx, rating.Outcome{
		SessionID: st.ID,
		Season:    season,
		Mode:      st.Config.Mode(),
		A:         st.Seats[0].UserID,
		B:         st.Seats[1].UserID,
		ScoreA:    r.ScoreFor(game.SeatA),
	})
	if err != nil {
		m.logger.Error("rating_apply_error", zap.String("session_id", st.ID), zap.Error(err))
	}
}

// Sweep fires due deadlines (clock flags, setup and scoring deadlines,
// disconnect grace) and reclaims sessions that finished long ago. It
// returns the number of sessions it changed.
func (m *Manager) Sweep(ctx context.Context) int {
	m.mu.RLock()
	ids := make([]string, 0, len(m.slots))
	for id := range m.slots {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)

	changed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if m.sweepOne(ctx, id) {
			changed++
		}
	}
	return changed
}

func (m *Manager) sweepOne(ctx context.Context, id string) bool {
	sl, err := m.lookup(id)
	if err != nil {
		return false
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()

	now := m.clock.Now()
	st := sl.st
	if st.IsTerminal() {
		if now.Sub(st.UpdatedAt) >= m.opts.ReclaimAfter {
			m.release(id, st)
			return true
		}
		return false
	}
	dl, ok := st.NextDeadline()
	if !ok || now.Before(dl) {
		return false
	}
	next, events, err := m.machine.Apply(st, game.SeatA, game.Action{Kind: game.ActTimeout, System: true}, now)
	if next == nil {
		m.logger.Warn("session_sweep_rejected", zap.String("session_id", id), zap.Error(err))
		return false
	}
	m.logger.Info("session_deadline", zap.String("session_id", id), zap.String("phase", string(st.Phase)))
	m.commit(ctx, sl, next, events)
	m.driveAI(ctx, sl)
	return true
}

// ActiveCount is the number of live sessions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.slots)
}

// Shutdown terminates every live session as a no-contest.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.slots))
	for id := range m.slots {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		if err := m.Terminate(ctx, id, "shutdown"); err != nil && game.CodeOf(err) != game.ErrInvalidPhaseAction.Code {
			m.logger.Warn("session_shutdown_error", zap.String("session_id", id), zap.Error(err))
		}
	}
}

func describe(p game.Participant) string {
	if p.IsAI() {
		return "ai:" + p.Engine
	}
	return p.UserID
}
