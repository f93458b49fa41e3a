// Package matchmaking pairs waiting users by rating in Redis-backed
// queues, one per (variant, board size).
package matchmaking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/goban-arena/internal/game"
	"github.com/park285/goban-arena/internal/metrics"
)

const (
	keyQueues = "mm:queues"
	keyIndex  = "mm:index:user"
)

type Options struct {
	// Threshold is the largest rating difference that may be paired.
	Threshold  float64
	MatchedTTL time.Duration
	MaxRetries int
	Season     string
	// ConfigFor builds the session rules for a pair. Defaults to a ranked
	// game with catalog defaults for the queue's variant and size.
	ConfigFor func(a, b Entry) game.RuleConfig
	// Notifier tells both users about a match, so neither has to poll.
	Notifier Notifier
}

func (o Options) withDefaults() Options {
	if o.Threshold <= 0 {
		o.Threshold = 200
	}
	if o.MatchedTTL <= 0 {
		o.MatchedTTL = 10 * time.Minute
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	if o.ConfigFor == nil {
		season := o.Season
		o.ConfigFor = func(a, _ Entry) game.RuleConfig {
			return game.RuleConfig{Variant: a.Variant, BoardSize: a.BoardSize, Ranked: true, Season: season}
		}
	}
	return o
}

type Queue struct {
	rdb     *redis.Client
	creator SessionCreator
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Metrics
	opts    Options
}

func NewQueue(rdb *redis.Client, creator SessionCreator, clk clock.Clock, logger *zap.Logger, m *metrics.Metrics, opts Options) *Queue {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{rdb: rdb, creator: creator, clock: clk, logger: logger, metrics: m, opts: opts.withDefaults()}
}

func queueKey(variant string, size int) string {
	return fmt.Sprintf("mm:q:%s:%d", strings.TrimSpace(variant), size)
}

func matchedKey(user string) string { return "mm:matched:" + strings.TrimSpace(user) }

// Join inserts e without attempting a match. An entry already queued for
// the same user is kept with its original JoinedAt; an entry in another
// queue is moved.
func (q *Queue) Join(ctx context.Context, e Entry) (Entry, error) {
	e.UserID = strings.TrimSpace(e.UserID)
	e.Variant = strings.TrimSpace(e.Variant)
	if e.UserID == "" || e.Variant == "" || e.BoardSize <= 0 {
		return Entry{}, ErrInvalidEntry
	}
	if e.JoinedAt.IsZero() {
		e.JoinedAt = q.clock.Now()
	}
	qk := queueKey(e.Variant, e.BoardSize)

	var out Entry
	err := q.retry(ctx, func() error {
		return q.rdb.Watch(ctx, func(tx *redis.Tx) error {
			prev, err := tx.HGet(ctx, keyIndex, e.UserID).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			if prev == qk {
				raw, err := tx.HGet(ctx, qk, e.UserID).Result()
				if err == nil {
					var cur Entry
					if jerr := json.Unmarshal([]byte(raw), &cur); jerr == nil {
						out = cur
						return nil
					}
				} else if !errors.Is(err, redis.Nil) {
					return err
				}
			}
			raw, err := json.Marshal(e)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if prev != "" && prev != qk {
					pipe.HDel(ctx, prev, e.UserID)
				}
				pipe.HSet(ctx, qk, e.UserID, raw)
				pipe.HSet(ctx, keyIndex, e.UserID, qk)
				pipe.SAdd(ctx, keyQueues, qk)
				pipe.Del(ctx, matchedKey(e.UserID))
				return nil
			})
			out = e
			return err
		}, keyIndex, qk)
	})
	if err != nil {
		return Entry{}, err
	}
	q.logger.Info("mm_enqueue",
		zap.String("user_id", out.UserID),
		zap.String("queue", qk),
		zap.Float64("rating", out.Rating))
	return out, nil
}

// Enqueue joins the queue and immediately tries to pair the new entry.
func (q *Queue) Enqueue(ctx context.Context, e Entry) (Result, error) {
	e, err := q.Join(ctx, e)
	if err != nil {
		return Result{}, err
	}
	return q.TryMatch(ctx, e.UserID)
}

// Dequeue removes the user's entry. It reports whether one was removed.
func (q *Queue) Dequeue(ctx context.Context, userID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return false, ErrInvalidEntry
	}
	removed := false
	err := q.retry(ctx, func() error {
		return q.rdb.Watch(ctx, func(tx *redis.Tx) error {
			qk, err := tx.HGet(ctx, keyIndex, userID).Result()
			if errors.Is(err, redis.Nil) {
				removed = false
				return nil
			}
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HDel(ctx, qk, userID)
				pipe.HDel(ctx, keyIndex, userID)
				return nil
			})
			removed = err == nil
			return err
		}, keyIndex)
	})
	if err != nil {
		return false, err
	}
	if removed {
		q.metrics.Match("dequeued")
		q.logger.Info("mm_dequeue", zap.String("user_id", userID))
	}
	return removed, nil
}

// Entry returns the user's queued entry, if any.
func (q *Queue) Entry(ctx context.Context, userID string) (*Entry, error) {
	qk, err := q.rdb.HGet(ctx, keyIndex, userID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	raw, err := q.rdb.HGet(ctx, qk, userID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// TryMatch pairs the user with the closest-rated entry of the same queue.
// It is safe to repeat: a matched user gets the recorded session back and a
// user who is not queued gets Matched=false.
func (q *Queue) TryMatch(ctx context.Context, userID string) (Result, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Result{}, ErrInvalidEntry
	}
	if sid, err := q.rdb.Get(ctx, matchedKey(userID)).Result(); err == nil {
		return Result{SessionID: sid, Matched: true}, nil
	} else if !errors.Is(err, redis.Nil) {
		return Result{}, err
	}

	qk, err := q.rdb.HGet(ctx, keyIndex, userID).Result()
	if errors.Is(err, redis.Nil) {
		return Result{}, nil
	}
	if err != nil {
		return Result{}, err
	}

	var me, other *Entry
	err = q.retry(ctx, func() error {
		me, other = nil, nil
		return q.rdb.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.HGetAll(ctx, qk).Result()
			if err != nil {
				return err
			}
			entries := decodeEntries(raw)
			for i := range entries {
				if entries[i].UserID == userID {
					me = &entries[i]
				}
			}
			if me == nil {
				return nil
			}
			other = pick(*me, entries, q.opts.Threshold)
			if other == nil {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HDel(ctx, qk, me.UserID, other.UserID)
				pipe.HDel(ctx, keyIndex, me.UserID, other.UserID)
				return nil
			})
			return err
		}, qk, keyIndex)
	})
	if err != nil {
		return Result{}, err
	}
	if me == nil || other == nil {
		return Result{}, nil
	}
	return q.start(ctx, *me, *other)
}

// start creates the session for a removed pair. On failure the partner goes
// back into the queue with its original JoinedAt.
func (q *Queue) start(ctx context.Context, me, other Entry) (Result, error) {
	first, second := other, me
	if me.JoinedAt.Before(other.JoinedAt) {
		first, second = me, other
	}
	cfg := q.opts.ConfigFor(first, second)
	seats := [2]game.Participant{{UserID: first.UserID}, {UserID: second.UserID}}
	sid, err := q.creator.CreateSession(ctx, cfg, seats)
	if err != nil {
		q.metrics.Match("create_failed")
		q.logger.Warn("mm_create_failed",
			zap.String("user_id", me.UserID),
			zap.String("partner_id", other.UserID),
			zap.Error(err))
		if _, jerr := q.Join(ctx, other); jerr != nil {
			q.logger.Error("mm_requeue_failed", zap.String("user_id", other.UserID), zap.Error(jerr))
		}
		return Result{}, fmt.Errorf("create matched session: %w", err)
	}

	_, err = q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, matchedKey(me.UserID), sid, q.opts.MatchedTTL)
		pipe.Set(ctx, matchedKey(other.UserID), sid, q.opts.MatchedTTL)
		return nil
	})
	if err != nil {
		q.logger.Warn("mm_marker_failed", zap.String("session_id", sid), zap.Error(err))
	}
	q.metrics.Match("matched")
	if q.opts.Notifier != nil {
		q.opts.Notifier.Matched(Match{SessionID: sid, Users: [2]string{first.UserID, second.UserID}})
	}
	q.logger.Info("mm_match",
		zap.String("session_id", sid),
		zap.String("user_a", first.UserID),
		zap.String("user_b", second.UserID),
		zap.Float64("diff", math.Abs(first.Rating-second.Rating)))
	return Result{SessionID: sid, Opponent: other.UserID, Matched: true}, nil
}

// Sweep retries every waiting entry, oldest first, and returns the number
// of sessions started.
func (q *Queue) Sweep(ctx context.Context) (int, error) {
	keys, err := q.rdb.SMembers(ctx, keyQueues).Result()
	if err != nil {
		return 0, err
	}
	sort.Strings(keys)
	matched := 0
	for _, qk := range keys {
		raw, err := q.rdb.HGetAll(ctx, qk).Result()
		if err != nil {
			return matched, err
		}
		if len(raw) == 0 {
			_ = q.rdb.SRem(ctx, keyQueues, qk).Err()
			continue
		}
		for _, e := range decodeEntries(raw) {
			if ctx.Err() != nil {
				return matched, ctx.Err()
			}
			res, err := q.TryMatch(ctx, e.UserID)
			if err != nil {
				q.logger.Warn("mm_sweep_error", zap.String("user_id", e.UserID), zap.Error(err))
				continue
			}
			if res.Matched && res.Opponent != "" {
				matched++
			}
		}
	}
	return matched, nil
}

// Size returns the number of entries waiting in one queue.
func (q *Queue) Size(ctx context.Context, variant string, boardSize int) (int64, error) {
	return q.rdb.HLen(ctx, queueKey(variant, boardSize)).Result()
}

func (q *Queue) retry(ctx context.Context, fn func() error) error {
	for i := 0; i < q.opts.MaxRetries; i++ {
		err := fn()
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return ErrContention
}

// decodeEntries returns the queue sorted by JoinedAt. Corrupt fields are
// skipped.
func decodeEntries(raw map[string]string) []Entry {
	out := make([]Entry, 0, len(raw))
	for _, v := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil || e.UserID == "" {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// pick chooses the entry with the smallest rating difference within
// threshold, oldest first on ties. entries must be sorted by JoinedAt.
func pick(me Entry, entries []Entry, threshold float64) *Entry {
	var best *Entry
	bestDiff := 0.0
	for i := range entries {
		c := &entries[i]
		if c.UserID == me.UserID {
			continue
		}
		d := math.Abs(c.Rating - me.Rating)
		if d > threshold {
			continue
		}
		if best == nil || d < bestDiff {
			best, bestDiff = c, d
		}
	}
	return best
}
