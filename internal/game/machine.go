package game

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/park285/goban-arena/internal/board"
	"github.com/park285/goban-arena/internal/gameclock"
	"github.com/park285/goban-arena/internal/variant"
)

// Options tunes the machine's timers and loop bounds.
type Options struct {
	SetupTimeout      time.Duration
	ScoringTimeout    time.Duration
	DisconnectGrace   time.Duration
	MaxScoringRounds  int
	MaxTiebreakRounds int
	Seed              int64
}

func (o Options) withDefaults() Options {
	if o.SetupTimeout <= 0 {
		o.SetupTimeout = 60 * time.Second
	}
	if o.ScoringTimeout <= 0 {
		o.ScoringTimeout = 3 * time.Minute
	}
	if o.DisconnectGrace <= 0 {
		o.DisconnectGrace = 60 * time.Second
	}
	if o.MaxScoringRounds <= 0 {
		o.MaxScoringRounds = 3
	}
	if o.MaxTiebreakRounds <= 0 {
		o.MaxTiebreakRounds = 3
	}
	if o.Seed == 0 {
		o.Seed = time.Now().UnixNano()
	}
	return o
}

type handler func(s *step, seat Seat, a Action) error

type tableKey struct {
	variant string
	phase   Phase
	kind    ActionKind
}

// Machine is the data-driven phase state machine. It holds no per-session
// state and is safe for concurrent use across sessions.
type Machine struct {
	catalog *variant.Catalog
	opts    Options
	table   map[tableKey]handler

	rngMu sync.Mutex
	rng   *rand.Rand
}

func NewMachine(catalog *variant.Catalog, opts Options) *Machine {
	opts = opts.withDefaults()
	m := &Machine{
		catalog: catalog,
		opts:    opts,
		table:   make(map[tableKey]handler),
		rng:     rand.New(rand.NewSource(opts.Seed)),
	}
	for _, id := range catalog.IDs() {
		v, _ := catalog.Get(id)
		m.register(v)
	}
	return m
}

func (m *Machine) Options() Options { return m.opts }

func (m *Machine) Catalog() *variant.Catalog { return m.catalog }

func (m *Machine) intn(n int) int {
	m.rngMu.Lock()
	defer m.rngMu.Unlock()
	return m.rng.Intn(n)
}

var setupActions = map[Phase][]ActionKind{
	PhaseNigiri:             {ActNigiriGuess},
	PhaseKomiBid:            {ActBid},
	PhaseCaptureBid:         {ActBid},
	PhaseCaptureBidTiebreak: {ActBid},
	PhaseBasePlacement:      {ActPlaceSetup},
	PhaseHiddenPlacement:    {ActPlaceSetup},
	PhaseDiceRoll:           {ActRoll},
	PhaseRPS:                {ActRPS},
	PhaseTokenPlacement:     {ActPlaceSetup},
}

var setupHandlers = map[Phase]handler{
	PhaseNigiri:             onNigiri,
	PhaseKomiBid:            onKomiBid,
	PhaseCaptureBid:         onCaptureBid,
	PhaseCaptureBidTiebreak: onCaptureBid,
	PhaseBasePlacement:      onBasePlacement,
	PhaseHiddenPlacement:    onHiddenPlacement,
	PhaseDiceRoll:           onDiceRoll,
	PhaseRPS:                onRPS,
	PhaseTokenPlacement:     onTokenPlacement,
}

var mainHandlers = map[ActionKind]handler{
	ActMove:    onMove,
	ActPass:    onPass,
	ActScan:    onScan,
	ActMissile: onMissile,
	ActFlick:   onFlick,
}

// register builds the transition table rows for one variant.
func (m *Machine) register(v *variant.Variant) {
	add := func(p Phase, k ActionKind, h handler) {
		m.table[tableKey{variant: v.ID, phase: p, kind: k}] = h
	}
	common := func(p Phase) {
		add(p, ActResign, onResign)
		add(p, ActTimeout, onTimeout)
		add(p, ActDisconnect, onDisconnect)
		add(p, ActReconnect, onReconnect)
	}

	setup := make([]Phase, 0, len(v.Setup)+2)
	for _, s := range v.Setup {
		setup = append(setup, Phase(s))
	}
	if containsPhase(setup, PhaseCaptureBid) {
		setup = append(setup, PhaseCaptureBidTiebreak)
	}
	if v.Mixable && !containsPhase(setup, PhaseHiddenPlacement) {
		setup = append(setup, PhaseHiddenPlacement)
	}
	for _, p := range setup {
		for _, k := range setupActions[p] {
			add(p, k, setupHandlers[p])
		}
		common(p)
	}

	mainPhases := []Phase{PhaseMainPlay}
	if v.HasWin(variant.WinCurlingEnds) {
		mainPhases = append(mainPhases, PhaseCurlingTiebreak)
	}
	actions := append([]string(nil), v.Actions...)
	if v.Mixable {
		actions = append(actions, string(ActScan), string(ActMissile))
	}
	for _, p := range mainPhases {
		for _, a := range actions {
			if h, ok := mainHandlers[ActionKind(a)]; ok {
				add(p, ActionKind(a), h)
			}
		}
		common(p)
	}

	if v.Scoring == variant.ScoringArea {
		add(PhaseScoring, ActMarkDead, onMarkDead)
		add(PhaseScoring, ActAcceptScore, onAcceptScore)
		common(PhaseScoring)
	}

	common(PhaseDisconnected)
}

func containsPhase(ps []Phase, p Phase) bool {
	for _, x := range ps {
		if x == p {
			return true
		}
	}
	return false
}

// Allowed reports whether the table has a row for the triple.
func (m *Machine) Allowed(variantID string, p Phase, k ActionKind) bool {
	_, ok := m.table[tableKey{variant: variantID, phase: p, kind: k}]
	return ok
}

func (m *Machine) plan(v *variant.Variant, cfg RuleConfig) []Phase {
	p := make([]Phase, 0, len(v.Setup)+4)
	for _, s := range v.Setup {
		p = append(p, Phase(s))
	}
	if v.Mixable && cfg.HasMix(variant.MixHidden) && !containsPhase(p, PhaseHiddenPlacement) {
		p = append(p, PhaseHiddenPlacement)
	}
	p = append(p, PhaseMainPlay)
	if v.Scoring == variant.ScoringArea {
		p = append(p, PhaseScoring)
	}
	return append(p, PhaseTerminal)
}

// ValidateConfig checks cfg against the catalog.
func (m *Machine) ValidateConfig(cfg RuleConfig) error {
	v, ok := m.catalog.Get(cfg.Variant)
	if !ok {
		return ErrInvalidConfig.Withf("unknown variant %q", cfg.Variant)
	}
	return validateConfig(cfg, v)
}

// DefaultConfig returns the catalog default for a variant id.
func (m *Machine) DefaultConfig(variantID string, boardSize int) (RuleConfig, error) {
	v, ok := m.catalog.Get(variantID)
	if !ok {
		return RuleConfig{}, ErrInvalidConfig.Withf("unknown variant %q", variantID)
	}
	cfg := DefaultConfig(v)
	if boardSize > 0 {
		cfg.BoardSize = boardSize
	}
	return cfg, validateConfig(cfg, v)
}

// Complete fills unset fields from the variant defaults and validates.
func (m *Machine) Complete(cfg RuleConfig) (RuleConfig, error) {
	v, ok := m.catalog.Get(cfg.Variant)
	if !ok {
		return RuleConfig{}, ErrInvalidConfig.Withf("unknown variant %q", cfg.Variant)
	}
	cfg = WithDefaults(cfg, v)
	return cfg, validateConfig(cfg, v)
}

// NewState creates a session state in its first phase.
func (m *Machine) NewState(id string, cfg RuleConfig, seats [2]Participant, now time.Time) (*State, []Event, error) {
	v, ok := m.catalog.Get(cfg.Variant)
	if !ok {
		return nil, nil, ErrInvalidConfig.Withf("unknown variant %q", cfg.Variant)
	}
	if err := validateConfig(cfg, v); err != nil {
		return nil, nil, err
	}
	if seats[0].IsAI() && seats[1].IsAI() {
		return nil, nil, ErrInvalidConfig.Withf("at least one seat must be human")
	}
	for i, p := range seats {
		if !p.IsAI() && p.UserID == "" {
			return nil, nil, ErrSeatUnavailable.Withf("seat %s has no participant", Seat(i))
		}
	}
	if !seats[0].IsAI() && !seats[1].IsAI() && seats[0].UserID == seats[1].UserID {
		return nil, nil, ErrInvalidConfig.Withf("a user cannot hold both seats")
	}
	b, err := board.New(cfg.BoardSize)
	if err != nil {
		return nil, nil, ErrInvalidConfig.Wrap(err)
	}
	tc := cfg.Time.Control()
	if v.Mixable && cfg.HasMix(variant.MixSpeed) && tc.Increment == 0 {
		tc.Increment = 5 * time.Second
	}
	st := &State{
		ID:         id,
		Variant:    v.ID,
		Config:     cfg.Clone(),
		Plan:       m.plan(v, cfg),
		Board:      b,
		Seats:      seats,
		Colors:     [2]board.Stone{board.Black, board.White},
		SeatToMove: SeatA,
		Clock:      gameclock.New(tc),
		Komi:       cfg.Komi,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	switch {
	case v.HasWin(variant.WinTurnLimit):
		// only the police side (white) hunts; the thief survives on turns
		st.CaptureTargets = [2]int{0, cfg.CaptureTarget}
	case v.HasWin(variant.WinCaptureTarget) || (v.Mixable && cfg.HasMix(variant.MixCapture)):
		st.CaptureTargets = [2]int{cfg.CaptureTarget, cfg.CaptureTarget}
	}
	if v.Allows(string(ActScan)) || (v.Mixable && cfg.HasMix(variant.MixHidden)) {
		st.ScansLeft = [2]int{cfg.ScanAllowance, cfg.ScanAllowance}
	}
	if v.Allows(string(ActMissile)) || (v.Mixable && cfg.HasMix(variant.MixMissile)) {
		st.MissilesLeft = [2]int{cfg.MissileCount, cfg.MissileCount}
	}
	if v.HasWin(variant.WinCurlingEnds) {
		st.Curling = &CurlingState{}
	}
	s := &step{m: m, st: st, v: v, now: now}
	s.enter(st.Plan[0])
	st.Version = 1
	return st, s.events, nil
}

// step is the working context of one Apply call.
type step struct {
	m      *Machine
	st     *State
	v      *variant.Variant
	now    time.Time
	events []Event
}

func (s *step) emit(e Event) { s.events = append(s.events, e) }

// Apply runs one action against a clone of cur. On a validation failure
// the returned state is nil and cur is untouched. A timing failure returns
// the forced-transition state together with ErrTimeExpired.
func (m *Machine) Apply(cur *State, seat Seat, a Action, now time.Time) (*State, []Event, error) {
	if cur.Phase == PhaseTerminal {
		return nil, nil, ErrInvalidPhaseAction.Withf("session is finished")
	}
	if !seat.Valid() {
		return nil, nil, ErrWrongTurn.Withf("not a participant")
	}
	if a.Kind == ActTimeout && !a.System {
		return nil, nil, ErrInvalidPhaseAction.Withf("timeout is a system action")
	}
	h, ok := m.table[tableKey{variant: cur.Variant, phase: cur.Phase, kind: a.Kind}]
	if !ok {
		return nil, nil, ErrInvalidPhaseAction.Withf("%s not allowed in %s", a.Kind, cur.Phase)
	}
	v, ok := m.catalog.Get(cur.Variant)
	if !ok {
		return nil, nil, ErrInvalidConfig.Withf("unknown variant %q", cur.Variant)
	}
	s := &step{m: m, st: cur.Clone(), v: v, now: now}

	// elapsed wall time is authoritative: a late action reveals the flag
	if !a.System && s.clockLive() {
		if flagged, expired := s.st.Clock.Expired(now); expired {
			s.timeoutLoss(Seat(flagged))
			s.commit()
			return s.st, s.events, ErrTimeExpired
		}
	}
	if err := h(s, seat, a); err != nil {
		return nil, nil, err
	}
	s.commit()
	return s.st, s.events, nil
}

// Terminate ends a session by administrative decision as a no-contest.
func (m *Machine) Terminate(cur *State, reason string, now time.Time) (*State, []Event, error) {
	if cur.Phase == PhaseTerminal {
		return nil, nil, ErrInvalidPhaseAction.Withf("session is finished")
	}
	if reason == "" {
		reason = ReasonAdmin
	}
	v, _ := m.catalog.Get(cur.Variant)
	s := &step{m: m, st: cur.Clone(), v: v, now: now}
	s.finish(TerminalResult{Kind: ResultNoContest, Winner: NoSeat, Reason: reason})
	s.commit()
	return s.st, s.events, nil
}

func (s *step) commit() {
	s.st.UpdatedAt = s.now
	s.st.Version++
}

func (s *step) clockLive() bool {
	return (s.st.Phase == PhaseMainPlay || s.st.Phase == PhaseCurlingTiebreak) && s.st.Clock.Running != gameclock.NoSeat
}

// enter switches to phase p and runs its entry actions.
func (s *step) enter(p Phase) {
	st := s.st
	from := st.Phase
	st.Phase = p
	st.Round = 0
	st.Submissions = [2]*Submission{}
	st.PhaseDeadline = time.Time{}
	switch {
	case p.IsSetup():
		st.PhaseDeadline = s.now.Add(s.m.opts.SetupTimeout)
	case p == PhaseMainPlay:
		st.SeatToMove = st.SeatWithColor(board.Black)
		st.Passes = 0
		st.Clock.Start(int(st.SeatToMove), s.now)
	case p == PhaseScoring:
		st.Clock.Stop(s.now)
		st.Proposal = nil
		st.ScoringRounds = 0
		s.revealAll()
		st.PhaseDeadline = s.now.Add(s.m.opts.ScoringTimeout)
	case p == PhaseTerminal:
		st.Clock.Stop(s.now)
		st.Clock.Running = gameclock.NoSeat
		s.revealAll()
	}
	s.emit(Event{Kind: EventPhase, Seat: NoSeat, From: from, To: p})
}

// advance moves to the next phase of the plan.
func (s *step) advance() {
	if s.st.PhaseIndex+1 >= len(s.st.Plan) {
		return
	}
	s.st.PhaseIndex++
	s.enter(s.st.Plan[s.st.PhaseIndex])
}

// enterSub enters a tiebreaker without moving the plan index; the next
// advance continues after the parent phase.
func (s *step) enterSub(p Phase, round int) {
	s.enter(p)
	s.st.Round = round
}

func (s *step) finish(r TerminalResult) {
	r.At = s.now
	s.st.Result = &r
	s.st.PhaseIndex = len(s.st.Plan) - 1
	s.enter(PhaseTerminal)
	s.emit(Event{Kind: EventTerminal, Seat: r.Winner, Note: r.Reason})
}

func (s *step) win(seat Seat, reason string) {
	s.finish(TerminalResult{Kind: ResultWin, Winner: seat, Reason: reason})
}

func (s *step) draw(reason string) {
	s.finish(TerminalResult{Kind: ResultDraw, Winner: NoSeat, Reason: reason})
}

func (s *step) timeoutLoss(flagged Seat) {
	s.win(flagged.Other(), ReasonTimeout)
}

func (s *step) revealAll() {
	s.st.Hidden = nil
	s.st.Revealed = [2]map[board.Point]bool{}
}

// assignBlack gives Black to seat, swapping colours (and any stones
// already on the board) when needed.
func (s *step) assignBlack(seat Seat) {
	if s.st.Colors[seat] == board.Black {
		return
	}
	s.st.Colors[0], s.st.Colors[1] = s.st.Colors[1], s.st.Colors[0]
	s.st.Board.SwapColors()
	s.st.CaptureTargets[0], s.st.CaptureTargets[1] = s.st.CaptureTargets[1], s.st.CaptureTargets[0]
}

func (s *step) randomSeat() Seat { return Seat(s.m.intn(2)) }

func (s *step) note(format string, args ...any) {
	s.emit(Event{Kind: EventSetup, Seat: NoSeat, Note: fmt.Sprintf(format, args...)})
}

func onResign(s *step, seat Seat, _ Action) error {
	s.win(seat.Other(), ReasonResign)
	return nil
}
