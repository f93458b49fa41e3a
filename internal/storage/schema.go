package storage

import "time"

// GameRow is a stored session start.
type GameRow struct {
	SessionID  string    `db:"session_id"`
	Variant    string    `db:"variant"`
	BoardSize  int       `db:"board_size"`
	RuleConfig string    `db:"rule_config"` // JSON
	SeatA      string    `db:"seat_a"`
	SeatB      string    `db:"seat_b"`
	StartedAt  time.Time `db:"started_at"`
}

// MoveRow is one applied main-play action.
type MoveRow struct {
	SessionID string    `db:"session_id"`
	Seq       int       `db:"seq"`
	Seat      int       `db:"seat"`
	Color     string    `db:"color"`
	Kind      string    `db:"kind"`
	X         int       `db:"x"`
	Y         int       `db:"y"`
	ToX       int       `db:"to_x"`
	ToY       int       `db:"to_y"`
	Captured  string    `db:"captured"` // JSON
	PlayedAt  time.Time `db:"played_at"`
}

// ResultRow is the terminal result with its SGF record.
type ResultRow struct {
	SessionID string    `db:"session_id"`
	Kind      string    `db:"kind"`
	Winner    string    `db:"winner"`
	Reason    string    `db:"reason"`
	Score     string    `db:"score"` // JSON, may be empty
	SGF       string    `db:"sgf"`
	EndedAt   time.Time `db:"ended_at"`
}

// Schema per driver. Both accept the same $n-placeholder DML.
var schemas = map[string]string{
	"postgres": `
CREATE TABLE IF NOT EXISTS arena_games (
	session_id TEXT PRIMARY KEY,
	variant TEXT NOT NULL,
	board_size INTEGER NOT NULL,
	rule_config JSONB NOT NULL,
	seat_a TEXT NOT NULL,
	seat_b TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS arena_moves (
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	seat SMALLINT NOT NULL,
	color TEXT NOT NULL,
	kind TEXT NOT NULL,
	x INTEGER NOT NULL,
	y INTEGER NOT NULL,
	to_x INTEGER NOT NULL,
	to_y INTEGER NOT NULL,
	captured JSONB NOT NULL,
	played_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, seq)
);

CREATE TABLE IF NOT EXISTS arena_results (
	session_id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	winner TEXT NOT NULL,
	reason TEXT NOT NULL,
	score JSONB,
	sgf TEXT NOT NULL,
	ended_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_arena_games_seat_a ON arena_games(seat_a);
CREATE INDEX IF NOT EXISTS idx_arena_games_seat_b ON arena_games(seat_b);
`,
	"sqlite3": `
CREATE TABLE IF NOT EXISTS arena_games (
	session_id TEXT PRIMARY KEY,
	variant TEXT NOT NULL,
	board_size INTEGER NOT NULL,
	rule_config TEXT NOT NULL,
	seat_a TEXT NOT NULL,
	seat_b TEXT NOT NULL,
	started_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS arena_moves (
	session_id TEXT NOT NULL,
	seq INTEGER NOT NULL,
	seat INTEGER NOT NULL,
	color TEXT NOT NULL,
	kind TEXT NOT NULL,
	x INTEGER NOT NULL,
	y INTEGER NOT NULL,
	to_x INTEGER NOT NULL,
	to_y INTEGER NOT NULL,
	captured TEXT NOT NULL,
	played_at DATETIME NOT NULL,
	PRIMARY KEY (session_id, seq)
);

CREATE TABLE IF NOT EXISTS arena_results (
	session_id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	winner TEXT NOT NULL,
	reason TEXT NOT NULL,
	score TEXT,
	sgf TEXT NOT NULL,
	ended_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_arena_games_seat_a ON arena_games(seat_a);
CREATE INDEX IF NOT EXISTS idx_arena_games_seat_b ON arena_games(seat_b);
`,
}
