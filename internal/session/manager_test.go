package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/park285/goban-arena/internal/ai"
	"github.com/park285/goban-arena/internal/board"
	"github.com/park285/goban-arena/internal/economy"
	"github.com/park285/goban-arena/internal/game"
	"github.com/park285/goban-arena/internal/rating"
	"github.com/park285/goban-arena/internal/variant"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeRecorder struct {
	mu      sync.Mutex
	starts  int
	moves   []game.MoveRecord
	results []*game.State
}

func (f *fakeRecorder) RecordStart(*game.State) {
	f.mu.Lock()
	f.starts++
	f.mu.Unlock()
}

func (f *fakeRecorder) RecordMove(_ string, rec game.MoveRecord) {
	f.mu.Lock()
	f.moves = append(f.moves, rec)
	f.mu.Unlock()
}

func (f *fakeRecorder) RecordResult(st *game.State) {
	f.mu.Lock()
	f.results = append(f.results, st)
	f.mu.Unlock()
}

type fakeRatings struct {
	mu       sync.Mutex
	outcomes []rating.Outcome
}

func (f *fakeRatings) Apply(_ context.Context, o rating.Outcome) (rating.Record, rating.Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, o)
	return rating.Record{}, rating.Record{}, true, nil
}

type fakeTickets struct {
	mu       sync.Mutex
	balance  map[string]int
	refunded []string
}

func (f *fakeTickets) Consume(_ context.Context, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balance[user] < 1 {
		return economy.ErrInsufficient
	}
	f.balance[user]--
	return nil
}

func (f *fakeTickets) Refund(_ context.Context, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance[user]++
	f.refunded = append(f.refunded, user)
	return nil
}

// scriptedBridge answers from a queue; an empty queue is an outage.
type scriptedBridge struct {
	mu    sync.Mutex
	queue []ai.Response
	calls int
}

func (b *scriptedBridge) RequestMove(_ context.Context, _ ai.Request) (ai.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if len(b.queue) == 0 {
		return ai.Response{}, ai.ErrUnavailable
	}
	r := b.queue[0]
	b.queue = b.queue[1:]
	return r, nil
}

type fixture struct {
	m       *Manager
	clock   *clock.Mock
	rec     *fakeRecorder
	ratings *fakeRatings
	bridge  *scriptedBridge
}

func newFixture(t *testing.T, opts Options, tickets Entitlements) *fixture {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(t0)
	f := &fixture{clock: mock, rec: &fakeRecorder{}, ratings: &fakeRatings{}, bridge: &scriptedBridge{}}
	m, err := NewManager(Deps{
		Machine:      game.NewMachine(variant.MustDefault(), game.Options{Seed: 3}),
		Recorder:     f.rec,
		Ratings:      f.ratings,
		Entitlements: tickets,
		AI:           f.bridge,
		Clock:        mock,
	}, opts)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	f.m = m
	return f
}

func humans() [2]game.Participant {
	return [2]game.Participant{{UserID: "alice"}, {UserID: "bob"}}
}

func classic9(ranked bool) game.RuleConfig {
	return game.RuleConfig{
		Variant:   "classic",
		BoardSize: 9,
		Time:      game.TimeControl{BaseSeconds: 600, IncrementSeconds: 5},
		Ranked:    ranked,
	}
}

// startClassic creates a classic session and finishes nigiri. It returns
// the id and the user playing black.
func startClassic(t *testing.T, f *fixture, ranked bool) (string, string, string) {
	t.Helper()
	ctx := context.Background()
	id, err := f.m.Create(ctx, CreateRequest{Config: classic9(ranked), Seats: humans()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	snap, err := f.m.ApplyUserAction(ctx, id, "bob", game.Action{Kind: game.ActNigiriGuess, Value: 1})
	if err != nil {
		t.Fatalf("nigiri: %v", err)
	}
	if snap.Phase != game.PhaseMainPlay {
		t.Fatalf("phase after nigiri = %s", snap.Phase)
	}
	black, white := "alice", "bob"
	if snap.Colors[1] == board.Black.String() {
		black, white = "bob", "alice"
	}
	return id, black, white
}

func mustAct(t *testing.T, f *fixture, id, user string, a game.Action) *game.Snapshot {
	t.Helper()
	snap, err := f.m.ApplyUserAction(context.Background(), id, user, a)
	if err != nil {
		t.Fatalf("%s by %s: %v", a.Kind, user, err)
	}
	return snap
}

func TestClassicTwoMovesTwoPassesReachesScoring(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	id, black, white := startClassic(t, f, false)

	mustAct(t, f, id, black, game.Action{Kind: game.ActMove, Point: board.Point{X: 4, Y: 4}})
	f.clock.Add(3 * time.Second)
	mustAct(t, f, id, white, game.Action{Kind: game.ActMove, Point: board.Point{X: 5, Y: 5}})
	mustAct(t, f, id, black, game.Action{Kind: game.ActPass})
	snap := mustAct(t, f, id, white, game.Action{Kind: game.ActPass})

	if snap.Phase != game.PhaseScoring {
		t.Fatalf("phase = %s, want scoring", snap.Phase)
	}
	moves := 0
	for _, h := range snap.History {
		if h.Kind == game.ActMove {
			moves++
		}
	}
	if moves != 2 || snap.Captured != [2]int{0, 0} {
		t.Fatalf("moves=%d captured=%v", moves, snap.Captured)
	}
	if len(f.rec.moves) != len(snap.History) || f.rec.starts != 1 {
		t.Fatalf("recorder saw %d moves, %d starts", len(f.rec.moves), f.rec.starts)
	}
}

func TestCaptureEndToEnd(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	id, black, white := startClassic(t, f, false)

	mustAct(t, f, id, black, game.Action{Kind: game.ActMove, Point: board.Point{X: 2, Y: 1}})
	mustAct(t, f, id, white, game.Action{Kind: game.ActMove, Point: board.Point{X: 2, Y: 2}})
	mustAct(t, f, id, black, game.Action{Kind: game.ActMove, Point: board.Point{X: 1, Y: 2}})
	mustAct(t, f, id, white, game.Action{Kind: game.ActMove, Point: board.Point{X: 7, Y: 7}})
	mustAct(t, f, id, black, game.Action{Kind: game.ActMove, Point: board.Point{X: 3, Y: 2}})
	mustAct(t, f, id, white, game.Action{Kind: game.ActMove, Point: board.Point{X: 7, Y: 6}})
	snap := mustAct(t, f, id, black, game.Action{Kind: game.ActMove, Point: board.Point{X: 2, Y: 3}})

	last := snap.History[len(snap.History)-1]
	if len(last.Captured) != 1 || last.Captured[0] != (board.Point{X: 2, Y: 2}) {
		t.Fatalf("captured = %v, want [(2,2)]", last.Captured)
	}
	st, _ := f.m.State(id)
	whiteSeat := st.SeatOf(white)
	if snap.Captured[whiteSeat] != 1 || snap.Captured[whiteSeat.Other()] != 0 {
		t.Fatalf("captured counters = %v", snap.Captured)
	}
	if snap.Rows[2][2] != '.' {
		t.Fatalf("captured stone still on board: %q", snap.Rows[2])
	}
}

func TestConcurrentActionsAreSerialized(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	id, black, white := startClassic(t, f, false)

	var wg sync.WaitGroup
	var mu sync.Mutex
	applied := 0
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := black
			if i%2 == 1 {
				user = white
			}
			_, err := f.m.ApplyUserAction(context.Background(), id, user, game.Action{
				Kind:  game.ActMove,
				Point: board.Point{X: i % 9, Y: i / 9},
			})
			if err == nil {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	st, _ := f.m.State(id)
	if len(st.History) != applied {
		t.Fatalf("history %d != applied %d", len(st.History), applied)
	}
	for i := 1; i < len(st.History); i++ {
		if st.History[i].Seat == st.History[i-1].Seat {
			t.Fatalf("seat %s moved twice in a row at %d", st.History[i].Seat, i)
		}
	}
}

func TestRejectedActionKeepsVersion(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	id, _, white := startClassic(t, f, false)
	before, _ := f.m.State(id)

	_, err := f.m.ApplyUserAction(context.Background(), id, white, game.Action{Kind: game.ActMove, Point: board.Point{X: 0, Y: 0}})
	if !errors.Is(err, game.ErrWrongTurn) {
		t.Fatalf("want WrongTurn, got %v", err)
	}
	after, _ := f.m.State(id)
	if after != before || after.Version != before.Version {
		t.Fatalf("rejected action changed state")
	}
	if _, err := f.m.ApplyUserAction(context.Background(), id, "mallory", game.Action{Kind: game.ActPass}); !errors.Is(err, game.ErrWrongTurn) {
		t.Fatalf("spectator action: %v", err)
	}
	if _, err := f.m.ApplyUserAction(context.Background(), id, white, game.Action{Kind: game.ActTimeout}); !errors.Is(err, game.ErrInvalidPhaseAction) {
		t.Fatalf("user timeout: %v", err)
	}
	if _, err := f.m.ApplyUserAction(context.Background(), "nope", white, game.Action{Kind: game.ActPass}); !errors.Is(err, game.ErrSessionNotFound) {
		t.Fatalf("unknown session: %v", err)
	}
}

func TestRankedResultIsRatedOnce(t *testing.T) {
	f := newFixture(t, Options{Season: "2026"}, nil)
	id, black, _ := startClassic(t, f, true)

	mustAct(t, f, id, black, game.Action{Kind: game.ActResign})
	if err := f.m.Terminate(context.Background(), id, ""); !errors.Is(err, game.ErrInvalidPhaseAction) {
		t.Fatalf("terminate after finish: %v", err)
	}

	if len(f.ratings.outcomes) != 1 {
		t.Fatalf("rating applied %d times", len(f.ratings.outcomes))
	}
	o := f.ratings.outcomes[0]
	wantA := 1.0
	if black == "alice" {
		wantA = 0
	}
	if o.A != "alice" || o.B != "bob" || o.ScoreA != wantA || o.Season != "2026" || o.Mode != "classic-9" {
		t.Fatalf("unexpected outcome %+v", o)
	}
	if len(f.rec.results) != 1 {
		t.Fatalf("results recorded %d times", len(f.rec.results))
	}
}

func TestNoContestIsNotRated(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	id, _, _ := startClassic(t, f, true)
	if err := f.m.Terminate(context.Background(), id, "admin"); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if len(f.ratings.outcomes) != 0 {
		t.Fatalf("no-contest was rated")
	}
	snap, _ := f.m.Snapshot(context.Background(), id, game.NoSeat)
	if snap.Result == nil || snap.Result.Kind != game.ResultNoContest {
		t.Fatalf("result = %+v", snap.Result)
	}
}

func TestCreateConsumesTicketsAndRefundsOnFailure(t *testing.T) {
	tickets := &fakeTickets{balance: map[string]int{"alice": 1}}
	f := newFixture(t, Options{TicketsRequired: true}, tickets)

	_, err := f.m.Create(context.Background(), CreateRequest{Config: classic9(false), Seats: humans()})
	if !errors.Is(err, game.ErrInsufficientEntitlement) {
		t.Fatalf("want InsufficientEntitlement, got %v", err)
	}
	if tickets.balance["alice"] != 1 || len(tickets.refunded) != 1 {
		t.Fatalf("alice not refunded: %+v", tickets)
	}
	if f.m.ActiveCount() != 0 {
		t.Fatalf("session created despite failure")
	}

	tickets.balance["bob"] = 1
	if _, err := f.m.Create(context.Background(), CreateRequest{Config: classic9(false), Seats: humans()}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tickets.balance["alice"] != 0 || tickets.balance["bob"] != 0 {
		t.Fatalf("tickets not consumed: %v", tickets.balance)
	}
}

func TestCreateRejectsInvalidConfig(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	_, err := f.m.Create(context.Background(), CreateRequest{
		Config: game.RuleConfig{Variant: "classic", BoardSize: 11},
		Seats:  humans(),
	})
	if !errors.Is(err, game.ErrInvalidConfig) {
		t.Fatalf("want InvalidConfig, got %v", err)
	}
	_, err = f.m.Create(context.Background(), CreateRequest{
		Config: game.RuleConfig{Variant: "alkkagi"},
		Seats:  [2]game.Participant{{UserID: "alice"}, {Engine: "gnugo"}},
	})
	if !errors.Is(err, game.ErrInvalidConfig) {
		t.Fatalf("ai in alkkagi: %v", err)
	}
}

func aiSession(t *testing.T, f *fixture) (string, game.Seat) {
	t.Helper()
	id, err := f.m.Create(context.Background(), CreateRequest{
		Config: game.RuleConfig{Variant: "classic", BoardSize: 9},
		Seats:  [2]game.Participant{{UserID: "alice"}, {Engine: "gnugo", Level: 3}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	st, _ := f.m.State(id)
	if st.Phase != game.PhaseMainPlay {
		t.Fatalf("ai should have finished nigiri, phase = %s", st.Phase)
	}
	return id, st.SeatOf("alice")
}

func aiMoves(st *game.State, seat game.Seat) []board.Point {
	var out []board.Point
	for _, h := range st.History {
		if h.Seat == seat && h.Kind == game.ActMove {
			out = append(out, h.Point)
		}
	}
	return out
}

func TestAISeatPlaysThroughSameValidation(t *testing.T) {
	f := newFixture(t, Options{AIAttempts: 2}, nil)
	f.bridge.queue = []ai.Response{
		{Point: board.Point{X: 3, Y: 3}},
		{Point: board.Point{X: 3, Y: 3}}, // occupied by then: rejected
		{Point: board.Point{X: 5, Y: 5}},
	}
	id, human := aiSession(t, f)
	engine := human.Other()

	for _, p := range []board.Point{{X: 0, Y: 0}, {X: 8, Y: 8}} {
		st, _ := f.m.State(id)
		if len(aiMoves(st, engine)) >= 2 {
			break
		}
		mustAct(t, f, id, "alice", game.Action{Kind: game.ActMove, Point: p})
	}

	st, _ := f.m.State(id)
	got := aiMoves(st, engine)
	if len(got) != 2 || got[0] != (board.Point{X: 3, Y: 3}) || got[1] != (board.Point{X: 5, Y: 5}) {
		t.Fatalf("ai moves = %v", got)
	}
	if st.SeatToMove != human {
		t.Fatalf("ai did not hand the turn back")
	}
	if st.NeedsAttention {
		t.Fatalf("session flagged although the engine recovered")
	}
}

func TestAIOutageFallsBackToPassAndFlags(t *testing.T) {
	f := newFixture(t, Options{AIAttempts: 3}, nil)
	id, human := aiSession(t, f)
	st, _ := f.m.State(id)
	if len(st.History) == 0 {
		mustAct(t, f, id, "alice", game.Action{Kind: game.ActMove, Point: board.Point{X: 4, Y: 4}})
	}
	st, _ = f.m.State(id)
	last := st.History[len(st.History)-1]
	if last.Seat != human.Other() || last.Kind != game.ActPass {
		t.Fatalf("last = %+v, want ai pass", last)
	}
	if !st.NeedsAttention {
		t.Fatalf("session not flagged")
	}
	if f.bridge.calls != 3 {
		t.Fatalf("bridge calls = %d, want 3", f.bridge.calls)
	}
}

func TestSweepFillsSetupDefaultsAndFlagsClock(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	ctx := context.Background()
	id, err := f.m.Create(ctx, CreateRequest{Config: classic9(false), Seats: humans()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if n := f.m.Sweep(ctx); n != 0 {
		t.Fatalf("nothing due yet, swept %d", n)
	}

	f.clock.Add(61 * time.Second)
	if n := f.m.Sweep(ctx); n != 1 {
		t.Fatalf("setup deadline not swept (%d)", n)
	}
	st, _ := f.m.State(id)
	if st.Phase != game.PhaseMainPlay {
		t.Fatalf("phase = %s, want main_play", st.Phase)
	}
	toMove := st.SeatToMove

	f.clock.Add(10*time.Minute + time.Second)
	f.m.Sweep(ctx)
	st, _ = f.m.State(id)
	if st.Phase != game.PhaseTerminal || st.Result.Reason != game.ReasonTimeout || st.Result.Winner != toMove.Other() {
		t.Fatalf("want timeout loss for %s, got %+v", toMove, st.Result)
	}
}

func TestSweepReclaimsFinishedSessionsIntoArchive(t *testing.T) {
	f := newFixture(t, Options{ReclaimAfter: time.Minute}, nil)
	ctx := context.Background()
	id, black, _ := startClassic(t, f, false)
	mustAct(t, f, id, black, game.Action{Kind: game.ActResign})

	f.m.Sweep(ctx)
	if f.m.ActiveCount() != 1 {
		t.Fatalf("reclaimed too early")
	}
	f.clock.Add(2 * time.Minute)
	f.m.Sweep(ctx)
	if f.m.ActiveCount() != 0 {
		t.Fatalf("finished session not reclaimed")
	}
	snap, err := f.m.SnapshotFor(ctx, id, black)
	if err != nil || snap.Result == nil {
		t.Fatalf("archive lookup: %v", err)
	}
	if _, err := f.m.ApplyUserAction(ctx, id, black, game.Action{Kind: game.ActPass}); !errors.Is(err, game.ErrSessionNotFound) {
		t.Fatalf("archived session accepted an action: %v", err)
	}
}

func TestCloseArchivesLiveSession(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	id, _, _ := startClassic(t, f, false)
	if err := f.m.Close(context.Background(), id); err != nil {
		t.Fatalf("Close: %v", err)
	}
	st, err := f.m.State(id)
	if err != nil || !st.IsTerminal() || st.Result.Reason != game.ReasonAdmin {
		t.Fatalf("closed state = %+v, %v", st, err)
	}
	if err := f.m.Close(context.Background(), id); !errors.Is(err, game.ErrSessionNotFound) {
		t.Fatalf("second close: %v", err)
	}
}

func TestPresenceOverlayAndReconnect(t *testing.T) {
	f := newFixture(t, Options{}, nil)
	ctx := context.Background()
	id, black, white := startClassic(t, f, false)
	mustAct(t, f, id, black, game.Action{Kind: game.ActMove, Point: board.Point{X: 4, Y: 4}})

	if err := f.m.Presence(ctx, id, white, false); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	st, _ := f.m.State(id)
	if st.Phase != game.PhaseDisconnected {
		t.Fatalf("phase = %s, want disconnected", st.Phase)
	}
	if err := f.m.Presence(ctx, id, "spectator", false); err != nil {
		t.Fatalf("spectator presence: %v", err)
	}

	f.clock.Add(30 * time.Second)
	if err := f.m.Presence(ctx, id, white, true); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	st, _ = f.m.State(id)
	if st.Phase != game.PhaseMainPlay {
		t.Fatalf("phase = %s, want main_play", st.Phase)
	}
	whiteSeat := st.SeatOf(white)
	if rem := st.Clock.Remaining(int(whiteSeat), f.clock.Now()); rem.BaseRemaining != 10*time.Minute {
		t.Fatalf("white clock ran while disconnected: %v", rem.BaseRemaining)
	}
}
