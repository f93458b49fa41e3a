// Package rating keeps per-season Elo records in Redis.
package rating

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Record is one user's standing in a season and mode.
type Record struct {
	UserID    string    `json:"user_id"`
	Season    string    `json:"season"`
	Mode      string    `json:"mode"`
	Rating    float64   `json:"rating"`
	Wins      int       `json:"wins"`
	Losses    int       `json:"losses"`
	Draws     int       `json:"draws"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

func (r Record) Games() int { return r.Wins + r.Losses + r.Draws }

// Outcome is the rating input of one finished session. ScoreA is 1, 0.5
// or 0 from A's point of view.
type Outcome struct {
	SessionID string
	Season    string
	Mode      string
	A, B      string
	ScoreA    float64
}

type Config struct {
	K          float64
	Initial    float64
	MarkerTTL  time.Duration
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.K <= 0 {
		c.K = 32
	}
	if c.Initial <= 0 {
		c.Initial = 1500
	}
	if c.MarkerTTL <= 0 {
		c.MarkerTTL = 90 * 24 * time.Hour
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	return c
}

var (
	ErrInvalidOutcome = errors.New("invalid rating outcome")
	ErrContention     = errors.New("rating update contention")
)

// Expected is A's expected score against B.
func Expected(ra, rb float64) float64 {
	return 1 / (1 + math.Pow(10, (rb-ra)/400))
}

// Update returns both new ratings after a game where A scored scoreA.
func Update(ra, rb, scoreA, k float64) (float64, float64) {
	delta := k * (scoreA - Expected(ra, rb))
	return ra + delta, rb - delta
}

type Updater struct {
	rdb    *redis.Client
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

func NewUpdater(rdb *redis.Client, cfg Config, logger *zap.Logger) *Updater {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Updater{rdb: rdb, cfg: cfg.withDefaults(), logger: logger, now: time.Now}
}

func recordKey(season, mode, user string) string {
	return "rating:" + strings.TrimSpace(season) + ":" + strings.TrimSpace(mode) + ":" + strings.TrimSpace(user)
}
func boardKey(season, mode string) string { return "rating:board:" + season + ":" + mode }
func appliedKey(sessionID string) string  { return "rating:applied:" + strings.TrimSpace(sessionID) }

// Get returns the stored record, or a fresh one at the initial rating.
func (u *Updater) Get(ctx context.Context, userID, season, mode string) (Record, error) {
	return u.load(ctx, u.rdb, userID, season, mode)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (u *Updater) load(ctx context.Context, g getter, userID, season, mode string) (Record, error) {
	raw, err := g.Get(ctx, recordKey(season, mode, userID)).Bytes()
	if err == redis.Nil {
		return Record{UserID: userID, Season: season, Mode: mode, Rating: u.cfg.Initial}, nil
	}
	if err != nil {
		return Record{}, err
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return Record{}, fmt.Errorf("decode rating record: %w", err)
	}
	return r, nil
}

// Apply rates a session exactly once. Both records and the session marker
// are written in one MULTI under WATCH; a second call for the same session
// returns the current records with applied=false.
func (u *Updater) Apply(ctx context.Context, o Outcome) (a, b Record, applied bool, err error) {
	if o.SessionID == "" || o.A == "" || o.B == "" || o.A == o.B || o.ScoreA < 0 || o.ScoreA > 1 {
		return Record{}, Record{}, false, ErrInvalidOutcome
	}
	keyA := recordKey(o.Season, o.Mode, o.A)
	keyB := recordKey(o.Season, o.Mode, o.B)
	marker := appliedKey(o.SessionID)

	for attempt := 0; attempt < u.cfg.MaxRetries; attempt++ {
		err = u.rdb.Watch(ctx, func(tx *redis.Tx) error {
			a, err = u.load(ctx, tx, o.A, o.Season, o.Mode)
			if err != nil {
				return err
			}
			b, err = u.load(ctx, tx, o.B, o.Season, o.Mode)
			if err != nil {
				return err
			}
			n, err := tx.Exists(ctx, marker).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				applied = false
				return nil
			}

			a.Rating, b.Rating = Update(a.Rating, b.Rating, o.ScoreA, u.cfg.K)
			tally(&a, o.ScoreA)
			tally(&b, 1-o.ScoreA)
			now := u.now()
			a.UpdatedAt, b.UpdatedAt = now, now
			rawA, _ := json.Marshal(&a)
			rawB, _ := json.Marshal(&b)

			pipe := tx.TxPipeline()
			pipe.Set(ctx, keyA, rawA, 0)
			pipe.Set(ctx, keyB, rawB, 0)
			pipe.ZAdd(ctx, boardKey(o.Season, o.Mode),
				redis.Z{Score: a.Rating, Member: a.UserID},
				redis.Z{Score: b.Rating, Member: b.UserID})
			pipe.Set(ctx, marker, now.Unix(), u.cfg.MarkerTTL)
			if _, err := pipe.Exec(ctx); err != nil {
				return err
			}
			applied = true
			return nil
		}, keyA, keyB, marker)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Record{}, Record{}, false, err
		}
		if applied {
			u.logger.Info("rating_apply",
				zap.String("session_id", o.SessionID),
				zap.String("mode", o.Mode),
				zap.String("user_a", o.A),
				zap.String("user_b", o.B),
				zap.Float64("rating_a", a.Rating),
				zap.Float64("rating_b", b.Rating))
		} else {
			u.logger.Debug("rating_apply_duplicate", zap.String("session_id", o.SessionID))
		}
		return a, b, applied, nil
	}
	return Record{}, Record{}, false, ErrContention
}

func tally(r *Record, score float64) {
	switch {
	case score > 0.5:
		r.Wins++
	case score < 0.5:
		r.Losses++
	default:
		r.Draws++
	}
}

// Top returns the leaderboard for a season and mode, best first.
func (u *Updater) Top(ctx context.Context, season, mode string, n int) ([]Record, error) {
	if n <= 0 {
		n = 10
	}
	ids, err := u.rdb.ZRevRange(ctx, boardKey(season, mode), 0, int64(n-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		r, err := u.Get(ctx, id, season, mode)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
