package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/park285/goban-arena/internal/arenabuilder"
	appcfg "github.com/park285/goban-arena/internal/config"
	"github.com/park285/goban-arena/internal/obslog"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := obslog.InitFromEnv(); err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	logger := obslog.L()
	defer func() { _ = logger.Sync() }()

	cfg, err := appcfg.Load()
	if err != nil {
		logger.Fatal("config_error", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := arenabuilder.New(ctx, cfg, nil, logger)
	if err != nil {
		logger.Fatal("init_error", zap.Error(err))
	}

	ws := &http.Server{
		Addr:              cfg.WSAddr,
		Handler:           deps.Realtime.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http_listen", zap.String("addr", cfg.HTTPAddr))
		return deps.HTTP.Listen(cfg.HTTPAddr)
	})
	g.Go(func() error {
		logger.Info("ws_listen", zap.String("addr", cfg.WSAddr))
		if err := ws.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	deps.Scheduler.Start()

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown_begin")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := deps.HTTP.ShutdownWithContext(sctx); err != nil {
			logger.Warn("http_shutdown", zap.Error(err))
		}
		if err := ws.Shutdown(sctx); err != nil {
			logger.Warn("ws_shutdown", zap.Error(err))
		}
		deps.Close(sctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server_exit", zap.Error(err))
		return
	}
	logger.Info("shutdown_complete")
}
