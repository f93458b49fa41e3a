package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/park285/goban-arena/internal/board"
	"github.com/park285/goban-arena/internal/game"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:", nil, nil, Options{BaseBackoff: time.Millisecond})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleState() *game.State {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &game.State{
		ID:        "s-1",
		Variant:   "classic",
		Config:    game.RuleConfig{Variant: "classic", BoardSize: 9, Komi: 6.5},
		Board:     board.MustNew(9),
		Komi:      6.5,
		Seats:     [2]game.Participant{{UserID: "alice"}, {Engine: "gnugo", Level: 5}},
		Colors:    [2]board.Stone{board.Black, board.White},
		CreatedAt: start,
	}
}

func TestParseDSN(t *testing.T) {
	cases := []struct {
		in, driver, source string
	}{
		{"postgres://u:p@db:5432/arena?sslmode=disable", "postgres", "postgres://u:p@db:5432/arena?sslmode=disable"},
		{"postgresql://db/arena", "postgres", "postgresql://db/arena"},
		{"sqlite:///var/lib/arena.db", "sqlite3", "/var/lib/arena.db"},
		{"file:arena.db?cache=shared", "sqlite3", "file:arena.db?cache=shared"},
		{":memory:", "sqlite3", ":memory:"},
	}
	for _, c := range cases {
		d, src, err := ParseDSN(c.in)
		if err != nil || d != c.driver || src != c.source {
			t.Fatalf("ParseDSN(%q) = %q %q %v", c.in, d, src, err)
		}
	}
	if _, _, err := ParseDSN("mysql://x"); err == nil {
		t.Fatalf("expected error for mysql")
	}
}

func TestRecordsAreWrittenOnce(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	st := sampleState()

	mv := game.MoveRecord{
		Seq: 1, Seat: game.SeatA, Color: board.Black, Kind: game.ActMove,
		Point: board.Point{X: 4, Y: 4}, To: board.Point{X: 4, Y: 4},
		At: st.CreatedAt.Add(time.Second),
	}
	pass := game.MoveRecord{Seq: 2, Seat: game.SeatB, Color: board.White, Kind: game.ActPass, At: st.CreatedAt.Add(2 * time.Second)}

	// redelivery of every event must not duplicate rows
	for i := 0; i < 2; i++ {
		s.RecordStart(st)
		s.RecordMove(st.ID, mv)
		s.RecordMove(st.ID, pass)
	}
	st.History = []game.MoveRecord{mv, pass}
	st.Result = &game.TerminalResult{Kind: game.ResultWin, Winner: game.SeatA, Reason: game.ReasonResign, At: st.CreatedAt.Add(time.Minute)}
	s.RecordResult(st)
	s.RecordResult(st)

	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	g, err := s.Game(ctx, st.ID)
	if err != nil || g == nil {
		t.Fatalf("Game: %+v %v", g, err)
	}
	if g.SeatA != "alice" || g.SeatB != "ai:gnugo:5" || g.BoardSize != 9 || !strings.Contains(g.RuleConfig, `"komi":6.5`) {
		t.Fatalf("game row = %+v", g)
	}
	if !g.StartedAt.Equal(st.CreatedAt) {
		t.Fatalf("started_at = %v", g.StartedAt)
	}

	moves, err := s.Moves(ctx, st.ID)
	if err != nil {
		t.Fatalf("Moves: %v", err)
	}
	if len(moves) != 2 || moves[0].X != 4 || moves[1].Kind != "pass" || moves[0].Captured != "[]" {
		t.Fatalf("moves = %+v", moves)
	}

	r, err := s.Result(ctx, st.ID)
	if err != nil || r == nil {
		t.Fatalf("Result: %+v %v", r, err)
	}
	if r.Winner != "alice" || r.Reason != "resign" || !strings.Contains(r.SGF, "RE[B+R]") || r.Score != "" {
		t.Fatalf("result row = %+v", r)
	}
}

func TestMissingRowsReadAsNil(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	if g, err := s.Game(ctx, "nope"); err != nil || g != nil {
		t.Fatalf("Game = %+v %v", g, err)
	}
	if r, err := s.Result(ctx, "nope"); err != nil || r != nil {
		t.Fatalf("Result = %+v %v", r, err)
	}
}

func TestCloseDrainsQueuedWrites(t *testing.T) {
	dsn := "sqlite://" + filepath.Join(t.TempDir(), "arena.db")
	s, err := Open(context.Background(), dsn, nil, nil, Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	st := sampleState()
	for i := 1; i <= 50; i++ {
		s.RecordMove(st.ID, game.MoveRecord{Seq: i, Kind: game.ActPass, At: st.CreatedAt})
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Flush(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("Flush after Close: %v", err)
	}

	again, err := Open(context.Background(), dsn, nil, nil, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer again.Close()
	moves, err := again.Moves(context.Background(), st.ID)
	if err != nil || len(moves) != 50 {
		t.Fatalf("stored %d moves (%v), want 50", len(moves), err)
	}
}

func TestWritesSurviveOutageInOrder(t *testing.T) {
	s, err := Open(context.Background(), ":memory:", nil, nil, Options{
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	if _, err := s.db.ExecContext(ctx, `ALTER TABLE arena_moves RENAME TO arena_moves_down`); err != nil {
		t.Fatalf("take table down: %v", err)
	}
	st := sampleState()
	for i := 1; i <= 5; i++ {
		s.RecordMove(st.ID, game.MoveRecord{Seq: i, Kind: game.ActPass, At: st.CreatedAt})
	}

	short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	err = s.Flush(short)
	cancel()
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Flush during outage = %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `ALTER TABLE arena_moves_down RENAME TO arena_moves`); err != nil {
		t.Fatalf("restore table: %v", err)
	}
	wait, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Flush(wait); err != nil {
		t.Fatalf("Flush after recovery: %v", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT seq FROM arena_moves WHERE session_id = $1 ORDER BY rowid`, st.ID)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	defer rows.Close()
	var seqs []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			t.Fatalf("scan: %v", err)
		}
		seqs = append(seqs, n)
	}
	if len(seqs) != 5 {
		t.Fatalf("stored %d moves, want 5", len(seqs))
	}
	for i, n := range seqs {
		if n != i+1 {
			t.Fatalf("insert order = %v", seqs)
		}
	}
}
