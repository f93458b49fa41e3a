package session

import (
	"context"

	"github.com/park285/goban-arena/internal/ai"
	"github.com/park285/goban-arena/internal/game"
	"github.com/park285/goban-arena/internal/rating"
)

// Broadcaster pushes committed state to connected viewers. st is never
// mutated after it is published.
type Broadcaster interface {
	Publish(st *game.State, events []game.Event)
}

// Recorder persists the session lifecycle. Implementations must not
// block; the manager calls them while holding the session lock.
type Recorder interface {
	RecordStart(st *game.State)
	RecordMove(sessionID string, rec game.MoveRecord)
	RecordResult(st *game.State)
}

type Entitlements interface {
	Consume(ctx context.Context, userID string) error
	Refund(ctx context.Context, userID string) error
}

type RatingUpdater interface {
	Apply(ctx context.Context, o rating.Outcome) (rating.Record, rating.Record, bool, error)
}

type AIBridge interface {
	RequestMove(ctx context.Context, req ai.Request) (ai.Response, error)
}

type NopBroadcaster struct{}

func (NopBroadcaster) Publish(*game.State, []game.Event) {}

type NopRecorder struct{}

func (NopRecorder) RecordStart(*game.State)            {}
func (NopRecorder) RecordMove(string, game.MoveRecord) {}
func (NopRecorder) RecordResult(*game.State)           {}
