package httpapi

import (
	"crypto/subtle"
	"fmt"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/park285/goban-arena/internal/adapter/arenapresenter"
	"github.com/park285/goban-arena/internal/game"
	"github.com/park285/goban-arena/internal/matchmaking"
	"github.com/park285/goban-arena/internal/session"
	"github.com/park285/goban-arena/pkg/arenadto"
)

var errUnavailable = &game.Error{Kind: game.KindDependency, Code: "FEATURE_UNAVAILABLE", Message: "feature not configured"}

// CreateAISession starts an unranked game against an engine.
func (h *Handler) CreateAISession(c *fiber.Ctx) error {
	var req arenadto.CreateAISessionRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	cfg := arenapresenter.ToRuleConfig(req.Rules)
	cfg.Ranked = false

	human := game.Participant{UserID: userOf(c)}
	engine := game.Participant{Engine: req.Engine, Level: req.Level}
	seats := [2]game.Participant{human, engine}
	if req.AIFirst {
		seats = [2]game.Participant{engine, human}
	}
	id, err := h.d.Sessions.Create(c.UserContext(), session.CreateRequest{Config: cfg, Seats: seats})
	if err != nil {
		return err
	}
	snap, err := h.d.Sessions.SnapshotFor(c.UserContext(), id, userOf(c))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(arenadto.SessionCreatedResponse{SessionID: id, Session: snap})
}

func (h *Handler) GetSession(c *fiber.Ctx) error {
	snap, err := h.d.Sessions.SnapshotFor(c.UserContext(), c.Params("id"), userOf(c))
	if err != nil {
		return err
	}
	return c.JSON(snap)
}

func (h *Handler) Act(c *fiber.Ctx) error {
	var req arenadto.ActionRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	snap, err := h.d.Sessions.ApplyUserAction(c.UserContext(), c.Params("id"), userOf(c), arenapresenter.ToAction(req))
	if err != nil {
		// timing failures commit a forced transition; return it with the error
		if kind, _ := game.KindOf(err); kind == game.KindTiming {
			if fresh, serr := h.d.Sessions.SnapshotFor(c.UserContext(), c.Params("id"), userOf(c)); serr == nil {
				return c.Status(arenapresenter.HTTPStatus(err)).JSON(fiber.Map{
					"error":   arenapresenter.ToDomainError(err),
					"session": fresh,
				})
			}
		}
		return err
	}
	return c.JSON(snap)
}

// CloseSession ends a live session as a no-contest. Operators only.
func (h *Handler) CloseSession(c *fiber.Ctx) error {
	token := c.Get(AdminHeader)
	if h.opts.AdminToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.opts.AdminToken)) != 1 {
		return fiber.NewError(fiber.StatusForbidden, "admin token required")
	}
	id := c.Params("id")
	if err := h.d.Sessions.Close(c.UserContext(), id); err != nil {
		return err
	}
	h.logger.Info("session_admin_close", zap.String("session_id", id), zap.String("by", userOf(c)))
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *Handler) GetRecord(c *fiber.Ctx) error {
	if h.d.Records == nil {
		return errUnavailable
	}
	id := c.Params("id")
	g, err := h.d.Records.Game(c.UserContext(), id)
	if err != nil {
		return game.ErrPersistence.Wrap(err)
	}
	if g == nil {
		return game.ErrSessionNotFound
	}
	res, err := h.d.Records.Result(c.UserContext(), id)
	if err != nil {
		return game.ErrPersistence.Wrap(err)
	}
	moves, err := h.d.Records.Moves(c.UserContext(), id)
	if err != nil {
		return game.ErrPersistence.Wrap(err)
	}
	return c.JSON(arenapresenter.ToGameRecord(g, res, moves))
}

func mode(variant string, size int) string { return fmt.Sprintf("%s-%d", variant, size) }

// Enqueue joins the ranked queue with the caller's current rating and
// tries to match immediately.
func (h *Handler) Enqueue(c *fiber.Ctx) error {
	if h.d.Queue == nil || h.d.Ratings == nil {
		return errUnavailable
	}
	var req arenadto.EnqueueRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	user := userOf(c)
	rec, err := h.d.Ratings.Get(c.UserContext(), user, h.opts.Season, mode(req.Variant, req.BoardSize))
	if err != nil {
		return game.ErrPersistence.Wrap(err)
	}
	res, err := h.d.Queue.Enqueue(c.UserContext(), matchmaking.Entry{
		UserID:    user,
		Variant:   req.Variant,
		BoardSize: req.BoardSize,
		Rating:    rec.Rating,
	})
	if err != nil {
		return err
	}
	return c.JSON(toMatchResponse(res))
}

func (h *Handler) Dequeue(c *fiber.Ctx) error {
	if h.d.Queue == nil {
		return errUnavailable
	}
	if _, err := h.d.Queue.Dequeue(c.UserContext(), userOf(c)); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Poll retries the caller's match and reports whether they are still
// waiting.
func (h *Handler) Poll(c *fiber.Ctx) error {
	if h.d.Queue == nil {
		return errUnavailable
	}
	res, err := h.d.Queue.TryMatch(c.UserContext(), userOf(c))
	if err != nil {
		return err
	}
	out := toMatchResponse(res)
	if !out.Matched {
		e, err := h.d.Queue.Entry(c.UserContext(), userOf(c))
		if err != nil {
			return err
		}
		out.Queued = e != nil
	}
	return c.JSON(out)
}

func toMatchResponse(r matchmaking.Result) arenadto.MatchResponse {
	return arenadto.MatchResponse{
		Matched:   r.Matched,
		SessionID: r.SessionID,
		Opponent:  r.Opponent,
		Queued:    !r.Matched,
	}
}

// proposal converts wire rules; ranked proposals play in the current season.
func (h *Handler) proposal(r arenadto.Rules) game.RuleConfig {
	cfg := arenapresenter.ToRuleConfig(r)
	if cfg.Ranked {
		cfg.Season = h.opts.Season
	}
	return cfg
}

func (h *Handler) CreateNegotiation(c *fiber.Ctx) error {
	if h.d.Negotiations == nil {
		return errUnavailable
	}
	var req arenadto.CreateNegotiationRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	r, err := h.d.Negotiations.Create(userOf(c), req.Receiver, h.proposal(req.Proposal))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(r)
}

func (h *Handler) ListNegotiations(c *fiber.Ctx) error {
	if h.d.Negotiations == nil {
		return errUnavailable
	}
	return c.JSON(h.d.Negotiations.PendingFor(userOf(c)))
}

func (h *Handler) GetNegotiation(c *fiber.Ctx) error {
	if h.d.Negotiations == nil {
		return errUnavailable
	}
	r, err := h.d.Negotiations.Get(c.Params("id"), userOf(c))
	if err != nil {
		return err
	}
	return c.JSON(r)
}

func (h *Handler) AcceptNegotiation(c *fiber.Ctx) error {
	if h.d.Negotiations == nil {
		return errUnavailable
	}
	r, err := h.d.Negotiations.Accept(c.UserContext(), c.Params("id"), userOf(c))
	if err != nil {
		return err
	}
	return c.JSON(r)
}

func (h *Handler) RejectNegotiation(c *fiber.Ctx) error {
	if h.d.Negotiations == nil {
		return errUnavailable
	}
	r, err := h.d.Negotiations.Reject(c.Params("id"), userOf(c))
	if err != nil {
		return err
	}
	return c.JSON(r)
}

func (h *Handler) ModifyNegotiation(c *fiber.Ctx) error {
	if h.d.Negotiations == nil {
		return errUnavailable
	}
	var req arenadto.ModifyNegotiationRequest
	if err := h.bind(c, &req); err != nil {
		return err
	}
	r, err := h.d.Negotiations.Modify(c.Params("id"), userOf(c), h.proposal(req.Proposal))
	if err != nil {
		return err
	}
	return c.JSON(r)
}

func (h *Handler) CancelNegotiation(c *fiber.Ctx) error {
	if h.d.Negotiations == nil {
		return errUnavailable
	}
	r, err := h.d.Negotiations.Cancel(c.Params("id"), userOf(c))
	if err != nil {
		return err
	}
	return c.JSON(r)
}

func (h *Handler) GetRating(c *fiber.Ctx) error {
	if h.d.Ratings == nil {
		return errUnavailable
	}
	m := c.Query("mode", h.opts.DefaultMode)
	rec, err := h.d.Ratings.Get(c.UserContext(), c.Params("user"), h.opts.Season, m)
	if err != nil {
		return game.ErrPersistence.Wrap(err)
	}
	return c.JSON(arenapresenter.ToRating(rec))
}

func (h *Handler) Leaderboard(c *fiber.Ctx) error {
	if h.d.Ratings == nil {
		return errUnavailable
	}
	n, _ := strconv.Atoi(c.Query("limit", "10"))
	if n <= 0 || n > 100 {
		n = 10
	}
	recs, err := h.d.Ratings.Top(c.UserContext(), h.opts.Season, c.Params("mode"), n)
	if err != nil {
		return game.ErrPersistence.Wrap(err)
	}
	out := make([]arenadto.RatingResponse, 0, len(recs))
	for _, r := range recs {
		out = append(out, arenapresenter.ToRating(r))
	}
	return c.JSON(out)
}
