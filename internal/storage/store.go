// Package storage durably records session starts, moves and results. Writes
// are queued and applied by one background writer so the session path never
// waits on the database.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/park285/goban-arena/internal/game"
	"github.com/park285/goban-arena/internal/metrics"
	"github.com/park285/goban-arena/internal/sgf"
)

var ErrClosed = errors.New("storage closed")

// ParseDSN maps a DATABASE_URL onto a database/sql driver name and source.
// postgres:// and postgresql:// go to lib/pq; sqlite://path, file: and
// :memory: go to go-sqlite3.
func ParseDSN(raw string) (driver, source string, err error) {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, "postgres://"), strings.HasPrefix(raw, "postgresql://"):
		return "postgres", raw, nil
	case strings.HasPrefix(raw, "sqlite://"):
		return "sqlite3", strings.TrimPrefix(raw, "sqlite://"), nil
	case strings.HasPrefix(raw, "file:"), raw == ":memory:":
		return "sqlite3", raw, nil
	}
	return "", "", fmt.Errorf("unsupported DATABASE_URL %q", raw)
}

type Options struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 6
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 100 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Second
	}
	return o
}

type job struct {
	name    string
	session string
	fn      func(ctx context.Context, tx *sql.Tx) error
	done    chan error // barrier only, buffered
}

// Store owns the database handle and the write queue.
type Store struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
	m      *metrics.Metrics
	opts   Options

	mu     sync.Mutex
	queue  []job
	closed bool
	wake   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Open connects, creates the schema and starts the writer.
func Open(ctx context.Context, dsn string, logger *zap.Logger, m *metrics.Metrics, opts Options) (*Store, error) {
	driver, source, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == "sqlite3" {
		// one connection keeps :memory: databases shared
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemas[driver]); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return newStore(db, driver, logger, m, opts), nil
}

func newStore(db *sql.DB, driver string, logger *zap.Logger, m *metrics.Metrics, opts Options) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		db:     db,
		driver: driver,
		logger: logger,
		m:      m,
		opts:   opts.withDefaults(),
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
	s.wg.Add(1)
	go s.writerLoop()
	return s
}

// enqueue never blocks and never drops; the queue is unbounded.
func (s *Store) enqueue(j job) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, j)
	s.mu.Unlock()
	s.signal()
	return true
}

func (s *Store) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Store) take() []job {
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.queue
	s.queue = nil
	return q
}

func (s *Store) requeue(jobs []job) {
	s.mu.Lock()
	s.queue = append(append([]job(nil), jobs...), s.queue...)
	s.mu.Unlock()
}

func (s *Store) writerLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			s.drain()
			return
		case <-s.wake:
		}
		if s.runBatch(s.ctx) {
			continue
		}
		// the head write is still failing; it keeps its place in line
		select {
		case <-s.ctx.Done():
		case <-time.After(s.opts.MaxBackoff):
			s.signal()
		}
	}
}

// runBatch applies the queued jobs in order. A failed job goes back to the
// front together with everything behind it, so a later write never lands
// before an earlier one.
func (s *Store) runBatch(ctx context.Context) bool {
	batch := s.take()
	for i, j := range batch {
		if err := s.run(ctx, j); err != nil {
			s.requeue(batch[i:])
			return false
		}
	}
	return true
}

// drain gives accepted writes a last bounded chance at shutdown.
func (s *Store) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.runBatch(ctx) {
		return
	}
	left := s.take()
	for _, j := range left {
		if j.done != nil {
			j.done <- ErrClosed
			continue
		}
		s.m.StorageWrite("dropped")
		s.logger.Error("storage_write_dropped", zap.String("op", j.name), zap.String("session_id", j.session))
	}
}

// run applies one job, retrying with exponential backoff up to
// MaxAttempts. Every statement is idempotent, so a retry after an
// ambiguous failure is safe.
func (s *Store) run(ctx context.Context, j job) error {
	if j.done != nil {
		j.done <- nil
		return nil
	}
	backoff := s.opts.BaseBackoff
	var err error
	for attempt := 1; ; attempt++ {
		if err = s.exec(ctx, j); err == nil {
			s.m.StorageWrite("ok")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.m.StorageWrite("retry")
		s.logger.Warn("storage_write_retry",
			zap.String("op", j.name),
			zap.String("session_id", j.session),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt >= s.opts.MaxAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
		if backoff > s.opts.MaxBackoff {
			backoff = s.opts.MaxBackoff
		}
	}
	s.m.StorageWrite("failed")
	s.logger.Error("storage_write_stalled",
		zap.String("op", j.name),
		zap.String("session_id", j.session),
		zap.Error(err))
	return err
}

func (s *Store) exec(ctx context.Context, j job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := j.fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Flush waits until every write queued before the call has been applied.
// While the database is down it blocks until ctx ends.
func (s *Store) Flush(ctx context.Context) error {
	done := make(chan error, 1)
	if !s.enqueue(job{name: "barrier", done: done}) {
		return ErrClosed
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting writes, drains the queue and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		s.logger.Warn("storage_close_timeout")
	}
	return s.db.Close()
}

// RecordStart queues the finalised rule configuration.
func (s *Store) RecordStart(st *game.State) {
	cfg, err := json.Marshal(st.Config)
	if err != nil {
		s.logger.Error("storage_encode_failed", zap.String("session_id", st.ID), zap.Error(err))
		return
	}
	row := GameRow{
		SessionID:  st.ID,
		Variant:    st.Variant,
		BoardSize:  st.Board.Size(),
		RuleConfig: string(cfg),
		SeatA:      seatLabel(st.Seats[game.SeatA]),
		SeatB:      seatLabel(st.Seats[game.SeatB]),
		StartedAt:  st.CreatedAt.UTC(),
	}
	s.enqueue(job{name: "start", session: row.SessionID, fn: func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO arena_games (session_id, variant, board_size, rule_config, seat_a, seat_b, started_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (session_id) DO NOTHING`,
			row.SessionID, row.Variant, row.BoardSize, row.RuleConfig, row.SeatA, row.SeatB, row.StartedAt)
		return err
	}})
}

// RecordMove queues one applied move, keyed by (session, seq).
func (s *Store) RecordMove(sessionID string, rec game.MoveRecord) {
	captured, _ := json.Marshal(rec.Captured)
	if rec.Captured == nil {
		captured = []byte("[]")
	}
	row := MoveRow{
		SessionID: sessionID,
		Seq:       rec.Seq,
		Seat:      int(rec.Seat),
		Color:     rec.Color.String(),
		Kind:      string(rec.Kind),
		X:         rec.Point.X,
		Y:         rec.Point.Y,
		ToX:       rec.To.X,
		ToY:       rec.To.Y,
		Captured:  string(captured),
		PlayedAt:  rec.At.UTC(),
	}
	s.enqueue(job{name: "move", session: sessionID, fn: func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO arena_moves (session_id, seq, seat, color, kind, x, y, to_x, to_y, captured, played_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			ON CONFLICT (session_id, seq) DO NOTHING`,
			row.SessionID, row.Seq, row.Seat, row.Color, row.Kind, row.X, row.Y, row.ToX, row.ToY, row.Captured, row.PlayedAt)
		return err
	}})
}

// RecordResult queues the terminal result together with the SGF record.
func (s *Store) RecordResult(st *game.State) {
	if st.Result == nil {
		return
	}
	r := st.Result
	row := ResultRow{
		SessionID: st.ID,
		Kind:      string(r.Kind),
		Reason:    r.Reason,
		SGF:       sgf.Encode(st),
		EndedAt:   r.At.UTC(),
	}
	if r.Kind == game.ResultWin {
		row.Winner = seatLabel(st.Seats[r.Winner])
	}
	var score sql.NullString
	if r.Score != nil {
		raw, _ := json.Marshal(r.Score)
		score = sql.NullString{String: string(raw), Valid: true}
	}
	s.enqueue(job{name: "result", session: row.SessionID, fn: func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO arena_results (session_id, kind, winner, reason, score, sgf, ended_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (session_id) DO NOTHING`,
			row.SessionID, row.Kind, row.Winner, row.Reason, score, row.SGF, row.EndedAt)
		return err
	}})
}

func seatLabel(p game.Participant) string {
	if p.IsAI() {
		return fmt.Sprintf("ai:%s:%d", p.Engine, p.Level)
	}
	return p.UserID
}

// Game reads a stored session start.
func (s *Store) Game(ctx context.Context, sessionID string) (*GameRow, error) {
	var g GameRow
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, variant, board_size, rule_config, seat_a, seat_b, started_at
		FROM arena_games WHERE session_id = $1`, sessionID).
		Scan(&g.SessionID, &g.Variant, &g.BoardSize, &g.RuleConfig, &g.SeatA, &g.SeatB, &g.StartedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select game: %w", err)
	}
	return &g, nil
}

// Moves returns the stored moves of a session in order.
func (s *Store) Moves(ctx context.Context, sessionID string) ([]MoveRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, seq, seat, color, kind, x, y, to_x, to_y, captured, played_at
		FROM arena_moves WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("select moves: %w", err)
	}
	defer rows.Close()
	var out []MoveRow
	for rows.Next() {
		var m MoveRow
		if err := rows.Scan(&m.SessionID, &m.Seq, &m.Seat, &m.Color, &m.Kind, &m.X, &m.Y, &m.ToX, &m.ToY, &m.Captured, &m.PlayedAt); err != nil {
			return nil, fmt.Errorf("scan move: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Result reads a stored terminal result.
func (s *Store) Result(ctx context.Context, sessionID string) (*ResultRow, error) {
	var r ResultRow
	var score sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, kind, winner, reason, score, sgf, ended_at
		FROM arena_results WHERE session_id = $1`, sessionID).
		Scan(&r.SessionID, &r.Kind, &r.Winner, &r.Reason, &score, &r.SGF, &r.EndedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select result: %w", err)
	}
	r.Score = score.String
	return &r, nil
}
