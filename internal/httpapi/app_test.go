package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/park285/goban-arena/internal/ai"
	"github.com/park285/goban-arena/internal/game"
	"github.com/park285/goban-arena/internal/matchmaking"
	"github.com/park285/goban-arena/internal/negotiation"
	"github.com/park285/goban-arena/internal/rating"
	"github.com/park285/goban-arena/internal/session"
	"github.com/park285/goban-arena/internal/storage"
	"github.com/park285/goban-arena/internal/variant"
	"github.com/park285/goban-arena/pkg/arenadto"
)

type fixture struct {
	app   *fiber.App
	m     *session.Manager
	store *storage.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store, err := storage.Open(context.Background(), ":memory:", nil, nil, storage.Options{})
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	ratings := rating.NewUpdater(rdb, rating.Config{}, nil)
	m, err := session.NewManager(session.Deps{
		Machine:  game.NewMachine(variant.MustDefault(), game.Options{Seed: 5}),
		Recorder: store,
		Ratings:  ratings,
		AI:       ai.NewBridge(time.Second, nil, ai.NewRandom(1)),
	}, session.Options{Season: "s1"})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	queue := matchmaking.NewQueue(rdb, m, clock.New(), nil, nil, matchmaking.Options{Season: "s1"})
	nego := negotiation.NewManager(negotiation.Deps{Creator: m, Completer: m.Machine()}, negotiation.Options{})

	app := NewApp(Deps{
		Sessions:     m,
		Queue:        queue,
		Negotiations: nego,
		Ratings:      ratings,
		Records:      store,
	}, Options{Season: "s1", AdminToken: "op-secret"})
	return &fixture{app: app, m: m, store: store}
}

// call sends a JSON request as user and decodes the response into out
// when out is non-nil.
func (f *fixture) call(t *testing.T, method, path, user string, body any, out any, hdr ...string) int {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(UserHeader, user)
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := f.app.Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("%s %s: decode: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestRequiresUserHeader(t *testing.T) {
	f := newFixture(t)
	var out arenadto.ErrorResponse
	if code := f.call(t, http.MethodGet, "/api/sessions/x", "", nil, &out); code != http.StatusUnauthorized {
		t.Fatalf("status = %d", code)
	}
	if out.Error.Code != "UNAUTHENTICATED" {
		t.Fatalf("error = %+v", out.Error)
	}
}

func TestAISessionResignIsRecorded(t *testing.T) {
	f := newFixture(t)
	var created struct {
		SessionID string        `json:"session_id"`
		Session   game.Snapshot `json:"session"`
	}
	code := f.call(t, http.MethodPost, "/api/sessions/ai", "alice", arenadto.CreateAISessionRequest{
		Rules:  arenadto.Rules{Variant: "classic", BoardSize: 9},
		Engine: "random", Level: 2,
	}, &created)
	if code != http.StatusCreated || created.SessionID == "" {
		t.Fatalf("create = %d %+v", code, created)
	}
	if created.Session.Seats[1].Engine != "random" || created.Session.Viewer != game.SeatA {
		t.Fatalf("seats = %+v viewer = %v", created.Session.Seats, created.Session.Viewer)
	}

	var snap game.Snapshot
	if code := f.call(t, http.MethodPost, "/api/sessions/"+created.SessionID+"/actions", "alice",
		arenadto.ActionRequest{Kind: "resign"}, &snap); code != http.StatusOK {
		t.Fatalf("resign = %d", code)
	}
	if snap.Result == nil || snap.Result.Winner != game.SeatB || snap.Result.Reason != game.ReasonResign {
		t.Fatalf("result = %+v", snap.Result)
	}

	if err := f.store.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	var rec arenadto.GameRecordResponse
	if code := f.call(t, http.MethodGet, "/api/records/"+created.SessionID, "alice", nil, &rec); code != http.StatusOK {
		t.Fatalf("record = %d", code)
	}
	if rec.Result != "win" || rec.Reason != "resign" || rec.SeatB != "ai:random:2" || rec.SGF == "" {
		t.Fatalf("record = %+v", rec)
	}
}

func TestErrorsMapToStatus(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown session", http.MethodGet, "/api/sessions/nope", nil, http.StatusNotFound, game.ErrSessionNotFound.Code},
		{"missing kind", http.MethodPost, "/api/sessions/nope/actions", arenadto.ActionRequest{X: 1}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"off board", http.MethodPost, "/api/sessions/nope/actions", arenadto.ActionRequest{Kind: "move", X: 40}, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown engine", http.MethodPost, "/api/sessions/ai", arenadto.CreateAISessionRequest{
			Rules: arenadto.Rules{Variant: "classic", BoardSize: 9}, Engine: "katago",
		}, http.StatusServiceUnavailable, game.ErrAIUnavailable.Code},
		{"bad variant", http.MethodPost, "/api/sessions/ai", arenadto.CreateAISessionRequest{
			Rules: arenadto.Rules{Variant: "chess"}, Engine: "random",
		}, http.StatusBadRequest, game.ErrInvalidConfig.Code},
	}
	for _, c := range cases {
		var out arenadto.ErrorResponse
		if got := f.call(t, c.method, c.path, "alice", c.body, &out); got != c.status || out.Error.Code != c.code {
			t.Fatalf("%s: status %d code %q, want %d %q", c.name, got, out.Error.Code, c.status, c.code)
		}
	}
}

func TestMatchmakingPairsQueuedUsers(t *testing.T) {
	f := newFixture(t)
	req := arenadto.EnqueueRequest{Variant: "classic", BoardSize: 9}

	var first arenadto.MatchResponse
	if code := f.call(t, http.MethodPost, "/api/matchmaking/queue", "alice", req, &first); code != http.StatusOK {
		t.Fatalf("alice enqueue = %d", code)
	}
	if first.Matched || !first.Queued {
		t.Fatalf("alice = %+v", first)
	}

	var second arenadto.MatchResponse
	f.call(t, http.MethodPost, "/api/matchmaking/queue", "bob", req, &second)
	if !second.Matched || second.Opponent != "alice" || second.SessionID == "" {
		t.Fatalf("bob = %+v", second)
	}

	var polled arenadto.MatchResponse
	f.call(t, http.MethodPost, "/api/matchmaking/poll", "alice", nil, &polled)
	if !polled.Matched || polled.SessionID != second.SessionID {
		t.Fatalf("alice poll = %+v, want session %s", polled, second.SessionID)
	}

	var snap game.Snapshot
	f.call(t, http.MethodGet, "/api/sessions/"+second.SessionID, "alice", nil, &snap)
	if !snap.Config.Ranked || snap.Config.Season != "s1" || snap.BoardSize != 9 {
		t.Fatalf("matched session config = %+v", snap.Config)
	}

	var idle arenadto.MatchResponse
	f.call(t, http.MethodPost, "/api/matchmaking/poll", "carol", nil, &idle)
	if idle.Matched || idle.Queued {
		t.Fatalf("carol never queued: %+v", idle)
	}
	if code := f.call(t, http.MethodDelete, "/api/matchmaking/queue", "carol", nil, nil); code != http.StatusNoContent {
		t.Fatalf("dequeue = %d", code)
	}
}

func TestNegotiationAcceptStartsSession(t *testing.T) {
	f := newFixture(t)
	var r negotiation.Request
	code := f.call(t, http.MethodPost, "/api/negotiations", "alice", arenadto.CreateNegotiationRequest{
		Receiver: "bob",
		Proposal: arenadto.Rules{Variant: "classic", BoardSize: 13},
	}, &r)
	if code != http.StatusCreated || r.Status != negotiation.StatusPending {
		t.Fatalf("create = %d %+v", code, r)
	}

	var denied arenadto.ErrorResponse
	if code := f.call(t, http.MethodGet, "/api/negotiations/"+r.ID, "carol", nil, &denied); code != http.StatusForbidden {
		t.Fatalf("outsider read = %d %+v", code, denied)
	}
	if code := f.call(t, http.MethodPost, "/api/negotiations/"+r.ID+"/accept", "alice", nil, &denied); code != http.StatusForbidden {
		t.Fatalf("sender accept = %d %+v", code, denied)
	}

	var pending []negotiation.Request
	f.call(t, http.MethodGet, "/api/negotiations", "bob", nil, &pending)
	if len(pending) != 1 || pending[0].ID != r.ID {
		t.Fatalf("bob pending = %+v", pending)
	}

	var accepted negotiation.Request
	if code := f.call(t, http.MethodPost, "/api/negotiations/"+r.ID+"/accept", "bob", nil, &accepted); code != http.StatusOK {
		t.Fatalf("accept = %d", code)
	}
	if accepted.Status != negotiation.StatusAccepted || accepted.SessionID == "" {
		t.Fatalf("accepted = %+v", accepted)
	}
	var snap game.Snapshot
	f.call(t, http.MethodGet, "/api/sessions/"+accepted.SessionID, "alice", nil, &snap)
	if snap.BoardSize != 13 || snap.Seats[0].UserID != "alice" {
		t.Fatalf("session = %+v", snap)
	}

	var again arenadto.ErrorResponse
	if code := f.call(t, http.MethodPost, "/api/negotiations/"+r.ID+"/reject", "bob", nil, &again); code != http.StatusConflict {
		t.Fatalf("reject after accept = %d %+v", code, again)
	}
}

func TestStoredIdentitySurvivesLaterRequests(t *testing.T) {
	f := newFixture(t)
	var created struct {
		SessionID string `json:"session_id"`
	}
	if code := f.call(t, http.MethodPost, "/api/sessions/ai", "alice", arenadto.CreateAISessionRequest{
		Rules:  arenadto.Rules{Variant: "classic", BoardSize: 9},
		Engine: "random", Level: 1,
	}, &created); code != http.StatusCreated {
		t.Fatalf("create = %d", code)
	}
	var r negotiation.Request
	if code := f.call(t, http.MethodPost, "/api/negotiations", "dave", arenadto.CreateNegotiationRequest{
		Receiver: "erin",
		Proposal: arenadto.Rules{Variant: "classic", BoardSize: 9},
	}, &r); code != http.StatusCreated {
		t.Fatalf("negotiation = %d", code)
	}

	// same-length ids on later requests
	for _, u := range []string{"mallo", "zzzzz", "dav0"} {
		f.call(t, http.MethodGet, "/api/sessions/"+created.SessionID, u, nil, nil)
		f.call(t, http.MethodGet, "/api/negotiations/"+r.ID, u, nil, nil)
	}

	st, err := f.m.State(created.SessionID)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if st.Seats[0].UserID != "alice" {
		t.Fatalf("seat owner = %q", st.Seats[0].UserID)
	}
	var got negotiation.Request
	if code := f.call(t, http.MethodGet, "/api/negotiations/"+r.ID, "erin", nil, &got); code != http.StatusOK {
		t.Fatalf("receiver read = %d", code)
	}
	if got.Sender != "dave" || got.Receiver != "erin" {
		t.Fatalf("parties = %s -> %s", got.Sender, got.Receiver)
	}
}

func TestCloseRequiresAdminToken(t *testing.T) {
	f := newFixture(t)
	id, err := f.m.Create(context.Background(), session.CreateRequest{
		Config: game.RuleConfig{Variant: "classic", BoardSize: 9},
		Seats:  [2]game.Participant{{UserID: "alice"}, {UserID: "bob"}},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	path := "/api/sessions/" + id + "/close"
	if code := f.call(t, http.MethodPost, path, "alice", nil, nil); code != http.StatusForbidden {
		t.Fatalf("close without token = %d", code)
	}
	if code := f.call(t, http.MethodPost, path, "alice", nil, nil, AdminHeader, "op-secret"); code != http.StatusNoContent {
		t.Fatalf("close with token = %d", code)
	}
	var snap game.Snapshot
	f.call(t, http.MethodGet, "/api/sessions/"+id, "alice", nil, &snap)
	if snap.Result == nil || snap.Result.Kind != game.ResultNoContest {
		t.Fatalf("result = %+v", snap.Result)
	}
}

func TestRatingDefaultsToInitial(t *testing.T) {
	f := newFixture(t)
	var r arenadto.RatingResponse
	if code := f.call(t, http.MethodGet, "/api/ratings/alice?mode=classic-9", "bob", nil, &r); code != http.StatusOK {
		t.Fatalf("rating = %d", code)
	}
	if r.Rating != 1500 || r.Games != 0 || r.Mode != "classic-9" || r.Season != "s1" {
		t.Fatalf("rating = %+v", r)
	}
	var top []arenadto.RatingResponse
	if code := f.call(t, http.MethodGet, "/api/leaderboard/classic-9", "bob", nil, &top); code != http.StatusOK || len(top) != 0 {
		t.Fatalf("leaderboard = %d %+v", code, top)
	}
}
