// Package arenabuilder assembles the arena services from configuration.
package arenabuilder

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/park285/goban-arena/internal/ai"
	"github.com/park285/goban-arena/internal/ai/gtp"
	"github.com/park285/goban-arena/internal/ai/katago"
	"github.com/park285/goban-arena/internal/config"
	"github.com/park285/goban-arena/internal/economy"
	"github.com/park285/goban-arena/internal/game"
	"github.com/park285/goban-arena/internal/httpapi"
	"github.com/park285/goban-arena/internal/matchmaking"
	"github.com/park285/goban-arena/internal/metrics"
	"github.com/park285/goban-arena/internal/negotiation"
	"github.com/park285/goban-arena/internal/rating"
	"github.com/park285/goban-arena/internal/realtime"
	"github.com/park285/goban-arena/internal/rediskit"
	"github.com/park285/goban-arena/internal/scheduler"
	"github.com/park285/goban-arena/internal/session"
	"github.com/park285/goban-arena/internal/storage"
	"github.com/park285/goban-arena/internal/variant"
)

type Deps struct {
	Redis        *redis.Client
	Store        *storage.Store // nil without DATABASE_URL
	Registry     *prometheus.Registry
	Sessions     *session.Manager
	Queue        *matchmaking.Queue
	Negotiations *negotiation.Manager
	Ratings      *rating.Updater
	Hub          *realtime.Hub
	Scheduler    *scheduler.Scheduler
	HTTP         *fiber.App
	Realtime     *realtime.Server

	gtpPool *gtp.Pool
	logger  *zap.Logger
}

// New wires every service. rdb may be supplied by tests; otherwise
// REDIS_URL is dialed.
func New(ctx context.Context, cfg *config.AppConfig, rdb *redis.Client, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Deps{logger: logger}

	if rdb == nil {
		var err error
		rdb, err = rediskit.Open(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
	}
	d.Redis = rdb

	d.Registry = prometheus.NewRegistry()
	d.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(d.Registry)

	catalog, err := variant.New(cfg.VariantDir)
	if err != nil {
		d.Close(ctx)
		return nil, fmt.Errorf("load variants: %w", err)
	}
	machine := game.NewMachine(catalog, game.Options{DisconnectGrace: cfg.DisconnectGrace()})

	var recorder session.Recorder
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		d.Store, err = storage.Open(ctx, cfg.DatabaseURL, logger, m, storage.Options{})
		if err != nil {
			d.Close(ctx)
			return nil, fmt.Errorf("init storage: %w", err)
		}
		recorder = d.Store
	} else {
		logger.Warn("storage_disabled", zap.String("reason", "DATABASE_URL empty"))
	}

	bridge, err := d.engines(cfg)
	if err != nil {
		d.Close(ctx)
		return nil, err
	}

	d.Ratings = rating.NewUpdater(rdb, rating.Config{K: float64(cfg.RatingK), Initial: float64(cfg.RatingInitial)}, logger)

	var entitlements session.Entitlements
	if cfg.TicketsRequired {
		entitlements = economy.NewTickets(rdb, logger)
	}

	clk := clock.New()
	d.Hub = realtime.NewHub(clk, logger, realtime.Options{})

	d.Sessions, err = session.NewManager(session.Deps{
		Machine:      machine,
		Broadcaster:  d.Hub,
		Recorder:     recorder,
		Entitlements: entitlements,
		Ratings:      d.Ratings,
		AI:           bridge,
		Clock:        clk,
		Logger:       logger,
		Metrics:      m,
	}, session.Options{
		AIAttempts:      cfg.AIAttempts,
		ReclaimAfter:    cfg.ReclaimAfter(),
		ArchiveSize:     cfg.ArchiveSize,
		TicketsRequired: cfg.TicketsRequired,
		Season:          cfg.Season,
	})
	if err != nil {
		d.Close(ctx)
		return nil, fmt.Errorf("init sessions: %w", err)
	}

	d.Queue = matchmaking.NewQueue(rdb, d.Sessions, clk, logger, m, matchmaking.Options{
		Threshold: float64(cfg.MatchThreshold),
		Season:    cfg.Season,
		Notifier:  d.Hub,
	})

	d.Negotiations = negotiation.NewManager(negotiation.Deps{
		Creator:   d.Sessions,
		Completer: machine,
		Notifier:  d.Hub,
		Clock:     clk,
		Logger:    logger,
		Metrics:   m,
	}, negotiation.Options{Timeout: cfg.NegotiationTimeout()})

	d.Scheduler, err = scheduler.New(d.Sessions, d.Queue, d.Negotiations, logger, scheduler.Options{
		MatchEvery: cfg.MatchRetry(),
	})
	if err != nil {
		d.Close(ctx)
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	api := httpapi.Deps{
		Sessions:     d.Sessions,
		Queue:        d.Queue,
		Negotiations: d.Negotiations,
		Ratings:      d.Ratings,
		Logger:       logger,
	}
	// a typed nil would defeat the handlers' nil check
	if d.Store != nil {
		api.Records = d.Store
	}
	d.HTTP = httpapi.NewApp(api, httpapi.Options{
		Season:     cfg.Season,
		AdminToken: cfg.AdminToken,
		RateLimit:  cfg.RateLimit,
	})

	d.Realtime = realtime.NewServer(d.Hub, d.Sessions, logger, realtime.ServerOptions{
		OriginPatterns: cfg.WSOrigins,
		Gatherer:       d.Registry,
		Negotiations:   d.Negotiations,
		Queue:          d.Queue,
	})
	return d, nil
}

func (d *Deps) engines(cfg *config.AppConfig) (*ai.Bridge, error) {
	var engines []ai.Engine
	if p := strings.TrimSpace(cfg.GTPEnginePath); p != "" {
		pool, err := gtp.NewPool(gtp.PoolConfig{BinaryPath: p, Args: cfg.GTPEngineArgs, Size: cfg.GTPPoolSize})
		if err != nil {
			return nil, fmt.Errorf("init gtp engine: %w", err)
		}
		d.gtpPool = pool
		name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		engines = append(engines, gtp.NewEngine(name, pool))
	}
	if u := strings.TrimSpace(cfg.KataGoURL); u != "" {
		engines = append(engines, katago.NewClient(u, katago.WithTimeout(cfg.AITimeout())))
	}
	if cfg.RandomEngine {
		engines = append(engines, ai.NewRandom(time.Now().UnixNano()))
	}
	bridge := ai.NewBridge(cfg.AITimeout(), d.logger, engines...)
	d.logger.Info("ai_engines", zap.Strings("engines", bridge.Engines()))
	return bridge, nil
}

// Close releases what New opened. It is safe on a partially built Deps.
func (d *Deps) Close(ctx context.Context) {
	if d.Scheduler != nil {
		if err := d.Scheduler.Stop(ctx); err != nil {
			d.logger.Warn("scheduler_stop", zap.Error(err))
		}
	}
	if d.Hub != nil {
		d.Hub.CloseAll()
	}
	if d.Sessions != nil {
		d.Sessions.Shutdown(ctx)
	}
	if d.Store != nil {
		if err := d.Store.Close(); err != nil {
			d.logger.Warn("storage_close", zap.Error(err))
		}
	}
	if d.gtpPool != nil {
		_ = d.gtpPool.Close()
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
}
