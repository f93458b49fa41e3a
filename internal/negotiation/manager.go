// Package negotiation runs the two-party request/accept/reject/modify
// handshake that ends in a session with an agreed rule configuration.
package negotiation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/park285/goban-arena/internal/game"
	"github.com/park285/goban-arena/internal/metrics"
)

// Completer validates a proposal and fills catalog defaults.
type Completer interface {
	Complete(cfg game.RuleConfig) (game.RuleConfig, error)
}

type Options struct {
	Timeout time.Duration
	// Retain keeps closed requests readable for this long.
	Retain time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Retain <= 0 {
		o.Retain = 10 * time.Minute
	}
	return o
}

type Deps struct {
	Creator   SessionCreator
	Completer Completer
	Notifier  Notifier
	Clock     clock.Clock
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

type entry struct {
	Request
	gen      uint64
	timer    *clock.Timer
	closedAt time.Time
}

type pair struct{ from, to string }

// Manager owns every request. All dispositions happen under mu, so accept,
// cancel and expiry race to exactly one outcome.
type Manager struct {
	mu      sync.Mutex
	byID    map[string]*entry
	pending map[pair]string

	creator   SessionCreator
	completer Completer
	notifier  Notifier
	clock     clock.Clock
	logger    *zap.Logger
	metrics   *metrics.Metrics
	opts      Options
}

func NewManager(d Deps, opts Options) *Manager {
	if d.Clock == nil {
		d.Clock = clock.New()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Manager{
		byID:      make(map[string]*entry),
		pending:   make(map[pair]string),
		creator:   d.Creator,
		completer: d.Completer,
		notifier:  d.Notifier,
		clock:     d.Clock,
		logger:    d.Logger,
		metrics:   d.Metrics,
		opts:      opts.withDefaults(),
	}
}

func (m *Manager) complete(cfg game.RuleConfig) (game.RuleConfig, error) {
	if m.completer == nil {
		return cfg, nil
	}
	return m.completer.Complete(cfg)
}

// Create opens a request from sender to receiver.
func (m *Manager) Create(sender, receiver string, proposal game.RuleConfig) (Request, error) {
	sender, receiver = strings.TrimSpace(sender), strings.TrimSpace(receiver)
	if sender == "" || receiver == "" {
		return Request{}, ErrInvalidArgs
	}
	if sender == receiver {
		return Request{}, ErrInvalidArgs.Withf("cannot negotiate with yourself")
	}
	cfg, err := m.complete(proposal)
	if err != nil {
		return Request{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	key := pair{sender, receiver}
	if _, ok := m.pending[key]; ok {
		return Request{}, ErrAlreadyPending
	}
	now := m.clock.Now()
	e := &entry{Request: Request{
		ID:        uuid.NewString(),
		Origin:    sender,
		Sender:    sender,
		Receiver:  receiver,
		Proposal:  cfg,
		Status:    StatusPending,
		CreatedAt: now,
	}}
	m.byID[e.ID] = e
	m.pending[key] = e.ID
	m.arm(e)
	m.changed(e, "nego_create")
	return e.Request, nil
}

// Get returns a request visible to user.
func (m *Manager) Get(id, user string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	if !e.Involves(user) {
		return Request{}, ErrNotParticipant
	}
	return e.Request, nil
}

// PendingFor lists open requests the user is part of, oldest first.
func (m *Manager) PendingFor(user string) []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, e := range m.byID {
		if e.Status == StatusPending && e.Involves(user) {
			out = append(out, e.Request)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Accept closes the request and creates the session from the latest
// proposal. Only the party due to respond may accept.
func (m *Manager) Accept(ctx context.Context, id, user string) (Request, error) {
	m.mu.Lock()
	e, err := m.respondable(id, user)
	if err != nil {
		m.mu.Unlock()
		return Request{}, err
	}
	cfg := e.Proposal
	seats := [2]game.Participant{{UserID: e.Origin}, {UserID: other(e.Request, e.Origin)}}
	// claim the disposition before the slow path
	m.close(e, StatusAccepted, "")
	m.mu.Unlock()

	var sid string
	if m.creator == nil {
		err = fmt.Errorf("negotiation: no session creator")
	} else {
		sid, err = m.creator.CreateSession(ctx, cfg, seats)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		e.Status = StatusCancelled
		e.Disposition = "create_failed"
		m.changed(e, "nego_create_failed", zap.Error(err))
		return e.Request, fmt.Errorf("create negotiated session: %w", err)
	}
	e.SessionID = sid
	m.changed(e, "nego_accept", zap.String("session_id", sid))
	return e.Request, nil
}

func (m *Manager) Reject(id, user string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.respondable(id, user)
	if err != nil {
		return Request{}, err
	}
	m.close(e, StatusRejected, "")
	m.changed(e, "nego_reject")
	return e.Request, nil
}

// Modify answers with a counter-proposal: roles swap, the round advances
// and the response timer restarts.
func (m *Manager) Modify(id, user string, proposal game.RuleConfig) (Request, error) {
	cfg, err := m.complete(proposal)
	if err != nil {
		return Request{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.respondable(id, user)
	if err != nil {
		return Request{}, err
	}
	next := pair{e.Receiver, e.Sender}
	if other, ok := m.pending[next]; ok && other != e.ID {
		return Request{}, ErrAlreadyPending
	}
	delete(m.pending, pair{e.Sender, e.Receiver})
	m.pending[next] = e.ID

	e.Sender, e.Receiver = e.Receiver, e.Sender
	e.Proposal = cfg
	e.Round++
	e.Status = StatusModified
	m.changed(e, "nego_modify")
	e.Status = StatusPending
	m.arm(e)
	return e.Request, nil
}

// Cancel withdraws the request. Either party may cancel.
func (m *Manager) Cancel(id, user string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, err := m.open(id, user)
	if err != nil {
		return Request{}, err
	}
	m.close(e, StatusCancelled, "by_"+user)
	m.changed(e, "nego_cancel")
	return e.Request, nil
}

// CancelAllFor cancels every open request involving user, e.g. when they
// disconnect. It returns the number cancelled.
func (m *Manager) CancelAllFor(user, reason string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.byID {
		if e.Status != StatusPending || !e.Involves(user) {
			continue
		}
		m.close(e, StatusCancelled, reason)
		m.changed(e, "nego_cancel")
		n++
	}
	return n
}

// Prune drops closed requests older than the retention window.
func (m *Manager) Prune() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.clock.Now().Add(-m.opts.Retain)
	n := 0
	for id, e := range m.byID {
		if e.Status != StatusPending && e.closedAt.Before(cutoff) {
			delete(m.byID, id)
			n++
		}
	}
	return n
}

// open finds a pending request involving user. Caller holds mu.
func (m *Manager) open(id, user string) (*entry, error) {
	e, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !e.Involves(user) {
		return nil, ErrNotParticipant
	}
	if e.Status == StatusExpired {
		return nil, game.ErrNegotiationExpired
	}
	if e.Status != StatusPending {
		return nil, ErrNotPending
	}
	return e, nil
}

// respondable is open restricted to the party due to respond.
func (m *Manager) respondable(id, user string) (*entry, error) {
	e, err := m.open(id, user)
	if err != nil {
		return nil, err
	}
	if e.Receiver != user {
		return nil, ErrNotParticipant.Withf("waiting for %s to respond", e.Receiver)
	}
	return e, nil
}

// arm replaces the response timer. A bumped generation turns any timer
// still in flight into a no-op. Caller holds mu.
func (m *Manager) arm(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
	}
	e.gen++
	gen, id := e.gen, e.ID
	e.Deadline = m.clock.Now().Add(m.opts.Timeout)
	e.timer = m.clock.AfterFunc(m.opts.Timeout, func() { m.expire(id, gen) })
}

func (m *Manager) expire(id string, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[id]
	if !ok || e.gen != gen || e.Status != StatusPending {
		return
	}
	disposition := DispositionAutoReject
	if e.Round > 0 {
		disposition = DispositionAutoCancel
	}
	m.close(e, StatusExpired, disposition)
	m.changed(e, "nego_expire")
}

// close records a terminal status. Caller holds mu.
func (m *Manager) close(e *entry, s Status, disposition string) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.gen++
	e.Status = s
	if disposition != "" {
		e.Disposition = disposition
	}
	e.closedAt = m.clock.Now()
	if m.pending[pair{e.Sender, e.Receiver}] == e.ID {
		delete(m.pending, pair{e.Sender, e.Receiver})
	}
}

func (m *Manager) changed(e *entry, event string, fields ...zap.Field) {
	m.metrics.Negotiation(strings.ToLower(string(e.Status)))
	m.logger.Info(event, append([]zap.Field{
		zap.String("negotiation_id", e.ID),
		zap.String("sender", e.Sender),
		zap.String("receiver", e.Receiver),
		zap.String("status", string(e.Status)),
		zap.Int("round", e.Round),
	}, fields...)...)
	if m.notifier != nil {
		m.notifier.Changed(e.Request)
	}
}

func other(r Request, user string) string {
	if r.Sender == user {
		return r.Receiver
	}
	return r.Sender
}
