// Package httpapi is the REST surface: AI sessions, session actions,
// matchmaking, negotiations and ratings. Identity comes from the X-User-Id
// header set by the fronting gateway.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	"go.uber.org/zap"

	"github.com/park285/goban-arena/internal/adapter/arenapresenter"
	"github.com/park285/goban-arena/internal/game"
	"github.com/park285/goban-arena/internal/matchmaking"
	"github.com/park285/goban-arena/internal/negotiation"
	"github.com/park285/goban-arena/internal/rating"
	"github.com/park285/goban-arena/internal/session"
	"github.com/park285/goban-arena/internal/storage"
	"github.com/park285/goban-arena/pkg/arenadto"
)

const (
	UserHeader  = "X-User-Id"
	AdminHeader = "X-Admin-Token"

	localsUser = "userID"
)

type Sessions interface {
	Create(ctx context.Context, req session.CreateRequest) (string, error)
	State(id string) (*game.State, error)
	SnapshotFor(ctx context.Context, id, userID string) (*game.Snapshot, error)
	ApplyUserAction(ctx context.Context, id, userID string, a game.Action) (*game.Snapshot, error)
	Close(ctx context.Context, id string) error
}

type Queue interface {
	Enqueue(ctx context.Context, e matchmaking.Entry) (matchmaking.Result, error)
	Dequeue(ctx context.Context, userID string) (bool, error)
	TryMatch(ctx context.Context, userID string) (matchmaking.Result, error)
	Entry(ctx context.Context, userID string) (*matchmaking.Entry, error)
}

type Negotiations interface {
	Create(sender, receiver string, proposal game.RuleConfig) (negotiation.Request, error)
	Get(id, user string) (negotiation.Request, error)
	PendingFor(user string) []negotiation.Request
	Accept(ctx context.Context, id, user string) (negotiation.Request, error)
	Reject(id, user string) (negotiation.Request, error)
	Modify(id, user string, proposal game.RuleConfig) (negotiation.Request, error)
	Cancel(id, user string) (negotiation.Request, error)
}

type Ratings interface {
	Get(ctx context.Context, userID, season, mode string) (rating.Record, error)
	Top(ctx context.Context, season, mode string, n int) ([]rating.Record, error)
}

type Records interface {
	Game(ctx context.Context, id string) (*storage.GameRow, error)
	Result(ctx context.Context, id string) (*storage.ResultRow, error)
	Moves(ctx context.Context, id string) ([]storage.MoveRow, error)
}

type Deps struct {
	Sessions     Sessions
	Queue        Queue
	Negotiations Negotiations
	Ratings      Ratings
	Records      Records
	Logger       *zap.Logger
}

type Options struct {
	Season string
	// AdminToken guards session close; empty disables the route.
	AdminToken string
	// RateLimit is requests per second per user; zero disables limiting.
	RateLimit int
	// DefaultMode is the rating bucket used when none is given.
	DefaultMode string
}

type Handler struct {
	d        Deps
	opts     Options
	logger   *zap.Logger
	validate *validator.Validate
}

func NewApp(d Deps, opts Options) *fiber.App {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if opts.DefaultMode == "" {
		opts.DefaultMode = "classic-19"
	}
	h := &Handler{d: d, opts: opts, logger: d.Logger, validate: validator.New()}

	// ids from headers and params outlive the request as seat and
	// negotiation owners; fasthttp reuses its buffers
	app := fiber.New(fiber.Config{
		Immutable:             true,
		ErrorHandler:          h.errorHandler,
		ReadTimeout:           15 * time.Second,
		WriteTimeout:          35 * time.Second,
		IdleTimeout:           60 * time.Second,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(h.accessLog)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy", "time": time.Now().Unix()})
	})

	api := app.Group("/api", h.requireUser)
	if opts.RateLimit > 0 {
		api.Use(limiter.New(limiter.Config{
			Max:        opts.RateLimit,
			Expiration: time.Second,
			KeyGenerator: func(c *fiber.Ctx) string {
				return userOf(c)
			},
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(arenadto.ErrorResponse{Error: arenadto.DomainError{
					Kind: string(game.KindDependency), Code: "RATE_LIMITED", Message: "rate limit exceeded", Retryable: true,
				}})
			},
		}))
	}

	api.Post("/sessions/ai", h.CreateAISession)
	api.Get("/sessions/:id", h.GetSession)
	api.Post("/sessions/:id/actions", h.Act)
	api.Post("/sessions/:id/close", h.CloseSession)
	api.Get("/records/:id", h.GetRecord)

	api.Post("/matchmaking/queue", h.Enqueue)
	api.Delete("/matchmaking/queue", h.Dequeue)
	api.Post("/matchmaking/poll", h.Poll)

	api.Post("/negotiations", h.CreateNegotiation)
	api.Get("/negotiations", h.ListNegotiations)
	api.Get("/negotiations/:id", h.GetNegotiation)
	api.Post("/negotiations/:id/accept", h.AcceptNegotiation)
	api.Post("/negotiations/:id/reject", h.RejectNegotiation)
	api.Post("/negotiations/:id/modify", h.ModifyNegotiation)
	api.Post("/negotiations/:id/cancel", h.CancelNegotiation)

	api.Get("/ratings/:user", h.GetRating)
	api.Get("/leaderboard/:mode", h.Leaderboard)

	return app
}

func userOf(c *fiber.Ctx) string {
	u, _ := c.Locals(localsUser).(string)
	return u
}

func (h *Handler) requireUser(c *fiber.Ctx) error {
	u := strings.TrimSpace(c.Get(UserHeader))
	if u == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(arenadto.ErrorResponse{Error: arenadto.DomainError{
			Kind: string(game.KindValidation), Code: "UNAUTHENTICATED", Message: UserHeader + " header required",
		}})
	}
	c.Locals(localsUser, utils.CopyString(u))
	return c.Next()
}

func (h *Handler) accessLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	status := c.Response().StatusCode()
	if err != nil {
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		} else {
			status = arenapresenter.HTTPStatus(err)
		}
	}
	fields := []zap.Field{
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Int("status", status),
		zap.Duration("latency", time.Since(start)),
	}
	if u := strings.TrimSpace(c.Get(UserHeader)); u != "" {
		fields = append(fields, zap.String("user_id", u))
	}
	if status >= fiber.StatusInternalServerError {
		h.logger.Warn("http_request", fields...)
	} else {
		h.logger.Debug("http_request", fields...)
	}
	return err
}

// errorHandler renders every handler error as an ErrorResponse.
func (h *Handler) errorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(arenadto.ErrorResponse{Error: arenadto.DomainError{
			Code: "HTTP_" + fmt.Sprint(fe.Code), Message: fe.Message,
		}})
	}
	switch {
	case errors.Is(err, matchmaking.ErrInvalidEntry):
		return c.Status(fiber.StatusBadRequest).JSON(arenadto.ErrorResponse{Error: arenadto.DomainError{
			Kind: string(game.KindValidation), Code: "INVALID_QUEUE_ENTRY", Message: err.Error(),
		}})
	case errors.Is(err, matchmaking.ErrContention):
		return c.Status(fiber.StatusServiceUnavailable).JSON(arenadto.ErrorResponse{Error: arenadto.DomainError{
			Kind: string(game.KindDependency), Code: "QUEUE_CONTENTION", Message: err.Error(), Retryable: true,
		}})
	}
	status := arenapresenter.HTTPStatus(err)
	if status == fiber.StatusInternalServerError {
		h.logger.Error("http_internal_error", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.Status(status).JSON(arenadto.ErrorResponse{Error: arenapresenter.ToDomainError(err)})
}

// bind parses and validates a JSON body into dst.
func (h *Handler) bind(c *fiber.Ctx, dst any) error {
	if len(c.Body()) > 0 {
		if err := c.BodyParser(dst); err != nil {
			return arenapresenter.ErrBadRequest.Withf("invalid request body: %v", err)
		}
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return arenapresenter.ErrBadRequest.Withf("%s", describeValidation(verrs))
		}
		return arenapresenter.ErrBadRequest.Wrap(err)
	}
	return nil
}

func describeValidation(errs validator.ValidationErrors) string {
	var details strings.Builder
	for _, err := range errs {
		if details.Len() > 0 {
			details.WriteString("; ")
		}
		switch err.Tag() {
		case "required":
			fmt.Fprintf(&details, "%s is required", err.Field())
		case "oneof":
			fmt.Fprintf(&details, "%s must be one of [%s]", err.Field(), err.Param())
		case "min", "max":
			bound := "at least"
			if err.Tag() == "max" {
				bound = "at most"
			}
			if err.Type().Kind() == reflect.String {
				fmt.Fprintf(&details, "%s must be %s %s characters", err.Field(), bound, err.Param())
			} else {
				fmt.Fprintf(&details, "%s must be %s %s", err.Field(), bound, err.Param())
			}
		default:
			fmt.Fprintf(&details, "%s failed %s validation", err.Field(), err.Tag())
		}
	}
	return details.String()
}
