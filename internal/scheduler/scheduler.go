// Package scheduler runs the periodic maintenance jobs: the session sweep
// (clock expiry, phase deadlines, disconnect grace, reclaim), the
// matchmaking retry sweep and negotiation pruning.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type SessionSweeper interface {
	Sweep(ctx context.Context) int
}

type QueueSweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type Pruner interface {
	Prune() int
}

type Options struct {
	SessionEvery time.Duration
	MatchEvery   time.Duration
	PruneEvery   time.Duration
	// JobTimeout bounds one run of any job.
	JobTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.SessionEvery <= 0 {
		o.SessionEvery = time.Second
	}
	if o.MatchEvery <= 0 {
		o.MatchEvery = 5 * time.Second
	}
	if o.PruneEvery <= 0 {
		o.PruneEvery = time.Minute
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 30 * time.Second
	}
	return o
}

type Scheduler struct {
	cron     *cron.Cron
	sessions SessionSweeper
	queue    QueueSweeper
	nego     Pruner
	logger   *zap.Logger
	opts     Options
	ctx      context.Context
	cancel   context.CancelFunc
}

// New registers the jobs for the collaborators that are present. Nil
// collaborators are skipped.
func New(sessions SessionSweeper, queue QueueSweeper, nego Pruner, logger *zap.Logger, opts Options) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts = opts.withDefaults()
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		sessions: sessions,
		queue:    queue,
		nego:     nego,
		logger:   logger,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
	}
	if sessions != nil {
		if err := s.every(opts.SessionEvery, s.sweepSessions); err != nil {
			cancel()
			return nil, err
		}
	}
	if queue != nil {
		if err := s.every(opts.MatchEvery, s.sweepQueue); err != nil {
			cancel()
			return nil, err
		}
	}
	if nego != nil {
		if err := s.every(opts.PruneEvery, s.prune); err != nil {
			cancel()
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) every(d time.Duration, fn func()) error {
	if d < time.Second {
		d = time.Second
	}
	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", d), fn); err != nil {
		return fmt.Errorf("schedule job: %w", err)
	}
	return nil
}

func (s *Scheduler) jobContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.opts.JobTimeout)
}

func (s *Scheduler) sweepSessions() {
	ctx, cancel := s.jobContext()
	defer cancel()
	if n := s.sessions.Sweep(ctx); n > 0 {
		s.logger.Debug("sweep_sessions", zap.Int("advanced", n))
	}
}

func (s *Scheduler) sweepQueue() {
	ctx, cancel := s.jobContext()
	defer cancel()
	n, err := s.queue.Sweep(ctx)
	if err != nil {
		s.logger.Warn("sweep_queue_error", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("sweep_queue", zap.Int("matched", n))
	}
}

func (s *Scheduler) prune() {
	if n := s.nego.Prune(); n > 0 {
		s.logger.Debug("prune_negotiations", zap.Int("removed", n))
	}
}

// RunOnce runs every registered job synchronously, for startup catch-up.
func (s *Scheduler) RunOnce() {
	if s.sessions != nil {
		s.sweepSessions()
	}
	if s.queue != nil {
		s.sweepQueue()
	}
	if s.nego != nil {
		s.prune()
	}
}

func (s *Scheduler) Jobs() int { return len(s.cron.Entries()) }

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling, cancels running jobs and waits for them or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct{ logger *zap.Logger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron_"+msg, zap.Any("kv", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron_"+msg, zap.Error(err), zap.Any("kv", keysAndValues))
}
