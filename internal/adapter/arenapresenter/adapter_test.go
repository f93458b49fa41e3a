package arenapresenter

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/park285/goban-arena/internal/board"
	"github.com/park285/goban-arena/internal/game"
	"github.com/park285/goban-arena/internal/negotiation"
	"github.com/park285/goban-arena/internal/storage"
	"github.com/park285/goban-arena/pkg/arenadto"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{game.ErrWrongTurn, http.StatusConflict},
		{game.IllegalMove(board.ErrKo), http.StatusConflict},
		{game.ErrInvalidConfig.Withf("bad size"), http.StatusBadRequest},
		{game.ErrTimeExpired, http.StatusConflict},
		{game.ErrSessionNotFound, http.StatusNotFound},
		{game.ErrInsufficientEntitlement, http.StatusPaymentRequired},
		{game.ErrSeatUnavailable, http.StatusForbidden},
		{negotiation.ErrNotParticipant, http.StatusForbidden},
		{fmt.Errorf("wrapped: %w", game.ErrAIUnavailable), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := HTTPStatus(c.err); got != c.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestToDomainErrorHidesForeignMessages(t *testing.T) {
	d := ToDomainError(errors.New("dial tcp 10.0.0.1: refused"))
	if d.Code != "INTERNAL" || strings.Contains(d.Message, "10.0.0.1") {
		t.Fatalf("foreign error leaked: %+v", d)
	}
	d = ToDomainError(game.ErrAIUnavailable.Withf("engine down"))
	if d.Code != "AI_UNAVAILABLE" || d.Kind != "dependency" || !d.Retryable || d.Message != "engine down" {
		t.Fatalf("domain error = %+v", d)
	}
}

func TestRulesRoundTripThroughConfig(t *testing.T) {
	r := arenadto.Rules{Variant: "capture", BoardSize: 13, BaseSeconds: 600, CaptureTarget: 5, MixedRules: []string{"hidden"}}
	cfg := ToRuleConfig(r)
	if cfg.Time.BaseSeconds != 600 || cfg.CaptureTarget != 5 || cfg.BoardSize != 13 {
		t.Fatalf("config = %+v", cfg)
	}
	r.MixedRules[0] = "speed"
	if cfg.MixedRules[0] != "hidden" {
		t.Fatalf("mixed rules share backing array")
	}
	if back := ToRules(cfg); back.Variant != "capture" || back.BaseSeconds != 600 {
		t.Fatalf("rules = %+v", back)
	}
}

func TestToActionCopiesPoints(t *testing.T) {
	a := ToAction(arenadto.ActionRequest{
		Kind: "mark_dead", Points: []arenadto.Point{{X: 1, Y: 2}, {X: 3, Y: 4}},
	})
	if a.Kind != game.ActMarkDead || len(a.Points) != 2 || a.Points[1] != (board.Point{X: 3, Y: 4}) {
		t.Fatalf("action = %+v", a)
	}
	if a.System {
		t.Fatalf("wire actions are never system actions")
	}
}

func TestSummaryAndBoard(t *testing.T) {
	b := board.MustNew(9)
	_ = b.Put(board.Point{X: 0, Y: 0}, board.Black)
	st := &game.State{
		ID: "s-1", Variant: "classic", Board: b, Phase: game.PhaseTerminal,
		Seats:   [2]game.Participant{{UserID: "alice"}, {Engine: "gnugo", Level: 4}},
		Colors:  [2]board.Stone{board.Black, board.White},
		History: []game.MoveRecord{{Seq: 1, Kind: game.ActMove, Point: board.Point{X: 0, Y: 0}}, {Seq: 2, Kind: game.ActPass}},
		Result:  &game.TerminalResult{Kind: game.ResultWin, Winner: game.SeatB, Reason: game.ReasonResign},
	}
	snap := st.View(game.SeatA, st.CreatedAt)
	if !strings.HasPrefix(Board(snap), "●┼") {
		t.Fatalf("board:\n%s", Board(snap))
	}
	sum := Summary(snap)
	for _, want := range []string{"classic 9x9", "alice", "AI gnugo Lv.4", "(0,0), 패스", "AI gnugo Lv.4 승 (기권)"} {
		if !strings.Contains(sum, want) {
			t.Fatalf("missing %q in\n%s", want, sum)
		}
	}
}

func TestErrorUsesCatalogText(t *testing.T) {
	got := Error(&arenadto.DomainError{Code: "WRONG_TURN", Message: "not your turn"})
	if got != "⚠ 지금은 상대 차례입니다. (WRONG_TURN)" {
		t.Fatalf("Error = %q", got)
	}
	got = Error(&arenadto.DomainError{Code: "CUSTOM", Message: "odd", Retryable: true})
	if !strings.HasPrefix(got, "⚠ odd (CUSTOM) ") {
		t.Fatalf("Error = %q", got)
	}
}

func TestToGameRecordIncludesMoves(t *testing.T) {
	g := &storage.GameRow{SessionID: "s-1", Variant: "classic", BoardSize: 9, SeatA: "alice", SeatB: "bob"}
	moves := []storage.MoveRow{
		{SessionID: "s-1", Seq: 1, Color: "B", Kind: "move", X: 2, Y: 2},
		{SessionID: "s-1", Seq: 2, Color: "W", Kind: "pass"},
	}
	rec := ToGameRecord(g, nil, moves)
	if rec.Result != "" || len(rec.Moves) != 2 {
		t.Fatalf("record = %+v", rec)
	}
	if rec.Moves[0].X != 2 || rec.Moves[1].Kind != "pass" {
		t.Fatalf("moves = %+v", rec.Moves)
	}
}
