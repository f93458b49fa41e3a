// Package economy holds the play-ticket balance consumed when a session is
// created.
package economy

import (
	"context"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrInsufficient = errors.New("insufficient tickets")
	ErrInvalidUser  = errors.New("invalid user")
)

const maxRetries = 8

// Tickets keeps balances in Redis; a missing key is a zero balance.
type Tickets struct {
	rdb    *redis.Client
	logger *zap.Logger
}

func NewTickets(rdb *redis.Client, logger *zap.Logger) *Tickets {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tickets{rdb: rdb, logger: logger}
}

func ticketKey(user string) string { return "tickets:" + strings.TrimSpace(user) }

func (t *Tickets) Balance(ctx context.Context, userID string) (int64, error) {
	n, err := t.rdb.Get(ctx, ticketKey(userID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// Consume takes one ticket, failing with ErrInsufficient at zero.
func (t *Tickets) Consume(ctx context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidUser
	}
	key := ticketKey(userID)
	for attempt := 0; attempt < maxRetries; attempt++ {
		err := t.rdb.Watch(ctx, func(tx *redis.Tx) error {
			n, err := tx.Get(ctx, key).Int64()
			if err != nil && err != redis.Nil {
				return err
			}
			if n < 1 {
				return ErrInsufficient
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.DecrBy(ctx, key, 1)
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return err
		}
		t.logger.Debug("ticket_consume", zap.String("user_id", userID))
		return nil
	}
	return redis.TxFailedErr
}

// Refund returns a ticket taken by Consume.
func (t *Tickets) Refund(ctx context.Context, userID string) error {
	return t.Grant(ctx, userID, 1)
}

func (t *Tickets) Grant(ctx context.Context, userID string, n int64) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidUser
	}
	if err := t.rdb.IncrBy(ctx, ticketKey(userID), n).Err(); err != nil {
		return err
	}
	t.logger.Debug("ticket_grant", zap.String("user_id", userID), zap.Int64("n", n))
	return nil
}

// Unlimited never runs out. Used for local and AI-only setups.
type Unlimited struct{}

func (Unlimited) Consume(context.Context, string) error { return nil }
func (Unlimited) Refund(context.Context, string) error  { return nil }
