package arenapresenter

import (
	"errors"
	"net/http"

	"github.com/park285/goban-arena/internal/board"
	"github.com/park285/goban-arena/internal/game"
	"github.com/park285/goban-arena/internal/negotiation"
	"github.com/park285/goban-arena/internal/rating"
	"github.com/park285/goban-arena/internal/storage"
	"github.com/park285/goban-arena/pkg/arenadto"
)

// ToAction maps a wire action onto the phase machine input. Unknown kinds
// pass through and are rejected by the machine.
func ToAction(req arenadto.ActionRequest) game.Action {
	a := game.Action{
		Kind:      game.ActionKind(req.Kind),
		Point:     board.Point{X: req.X, Y: req.Y},
		To:        board.Point{X: req.ToX, Y: req.ToY},
		Direction: board.Direction(req.Direction),
		Value:     req.Value,
	}
	if len(req.Points) > 0 {
		a.Points = make([]board.Point, len(req.Points))
		for i, p := range req.Points {
			a.Points[i] = board.Point{X: p.X, Y: p.Y}
		}
	}
	return a
}

func ToRuleConfig(r arenadto.Rules) game.RuleConfig {
	return game.RuleConfig{
		Variant:   r.Variant,
		BoardSize: r.BoardSize,
		Time: game.TimeControl{
			BaseSeconds:      r.BaseSeconds,
			IncrementSeconds: r.IncrementSeconds,
			ByoyomiSeconds:   r.ByoyomiSeconds,
			ByoyomiPeriods:   r.ByoyomiPeriods,
		},
		Komi:          r.Komi,
		CaptureTarget: r.CaptureTarget,
		BaseStones:    r.BaseStones,
		HiddenStones:  r.HiddenStones,
		ScanAllowance: r.ScanAllowance,
		MissileCount:  r.MissileCount,
		MixedRules:    append([]string(nil), r.MixedRules...),
		TurnLimit:     r.TurnLimit,
		TokenCount:    r.TokenCount,
		CurlingEnds:   r.CurlingEnds,
		CurlingStones: r.CurlingStones,
		Ranked:        r.Ranked,
	}
}

func ToRules(c game.RuleConfig) arenadto.Rules {
	return arenadto.Rules{
		Variant:          c.Variant,
		BoardSize:        c.BoardSize,
		BaseSeconds:      c.Time.BaseSeconds,
		IncrementSeconds: c.Time.IncrementSeconds,
		ByoyomiSeconds:   c.Time.ByoyomiSeconds,
		ByoyomiPeriods:   c.Time.ByoyomiPeriods,
		Komi:             c.Komi,
		CaptureTarget:    c.CaptureTarget,
		BaseStones:       c.BaseStones,
		HiddenStones:     c.HiddenStones,
		ScanAllowance:    c.ScanAllowance,
		MissileCount:     c.MissileCount,
		MixedRules:       append([]string(nil), c.MixedRules...),
		TurnLimit:        c.TurnLimit,
		TokenCount:       c.TokenCount,
		CurlingEnds:      c.CurlingEnds,
		CurlingStones:    c.CurlingStones,
		Ranked:           c.Ranked,
	}
}

// ToDomainError flattens err for the wire. Errors outside the taxonomy are
// reported as INTERNAL without their message.
func ToDomainError(err error) arenadto.DomainError {
	var ge *game.Error
	if errors.As(err, &ge) {
		return arenadto.DomainError{
			Kind:      string(ge.Kind),
			Code:      ge.Code,
			Message:   ge.Message,
			Retryable: ge.Retryable,
		}
	}
	return arenadto.DomainError{Code: "INTERNAL", Message: "internal error"}
}

// ErrBadRequest reports a malformed or invalid request body.
var ErrBadRequest = &game.Error{Kind: game.KindValidation, Code: "INVALID_REQUEST", Message: "invalid request"}

var statusByCode = map[string]int{
	ErrBadRequest.Code:                   http.StatusBadRequest,
	game.ErrInvalidConfig.Code:           http.StatusBadRequest,
	negotiation.ErrInvalidArgs.Code:      http.StatusBadRequest,
	game.ErrInsufficientEntitlement.Code: http.StatusPaymentRequired,
	game.ErrSeatUnavailable.Code:         http.StatusForbidden,
	negotiation.ErrNotParticipant.Code:   http.StatusForbidden,
}

// HTTPStatus picks the response status for err.
func HTTPStatus(err error) int {
	var ge *game.Error
	if !errors.As(err, &ge) {
		return http.StatusInternalServerError
	}
	if s, ok := statusByCode[ge.Code]; ok {
		return s
	}
	switch ge.Kind {
	case game.KindValidation, game.KindTiming:
		return http.StatusConflict
	case game.KindResource:
		return http.StatusNotFound
	case game.KindDependency:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func ToRating(r rating.Record) arenadto.RatingResponse {
	return arenadto.RatingResponse{
		UserID: r.UserID,
		Season: r.Season,
		Mode:   r.Mode,
		Rating: r.Rating,
		Wins:   r.Wins,
		Losses: r.Losses,
		Draws:  r.Draws,
		Games:  r.Games(),
	}
}

// ToGameRecord joins a stored game with its result; res may be nil for a
// game still in progress.
func ToGameRecord(g *storage.GameRow, res *storage.ResultRow, moves []storage.MoveRow) arenadto.GameRecordResponse {
	out := arenadto.GameRecordResponse{
		SessionID: g.SessionID,
		Variant:   g.Variant,
		BoardSize: g.BoardSize,
		SeatA:     g.SeatA,
		SeatB:     g.SeatB,
		StartedAt: g.StartedAt,
	}
	if res != nil {
		out.Result = res.Kind
		out.Reason = res.Reason
		out.SGF = res.SGF
	}
	for _, m := range moves {
		out.Moves = append(out.Moves, arenadto.RecordMove{Seq: m.Seq, Color: m.Color, Kind: m.Kind, X: m.X, Y: m.Y})
	}
	return out
}
