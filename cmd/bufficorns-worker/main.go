package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"bufficorns/internal/config"
	"bufficorns/internal/game"
	"bufficorns/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	repos, closer, err := store.Open(ctx, store.Options{
		Driver:      cfg.Store.Driver,
		DatabaseURL: cfg.Store.DatabaseURL,
		SQLitePath:  cfg.Store.SQLitePath,
		MaxConns:    cfg.Store.MaxConns,
		AppName:     "bufficorns-worker",
	}, logger)
	if err != nil {
		logger.Error("store open failed", "err", err)
		os.Exit(1)
	}
	defer closer.Close()

	// The worker never trades or authenticates, so it runs without guards or a token verifier.
	svc := game.NewService(repos, nil, nil, nil, game.Rules{PeriodEnds: cfg.TradePeriodEnds}, logger)

	if cfg.RunOnce {
		n, err := svc.AwardMedals(ctx)
		if err != nil {
			logger.Error("award medals failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed", "medals", n)
		return
	}

	if cfg.TradePeriodEnds.IsZero() {
		logger.Warn("BUFFICORNS_TRADE_PERIOD_ENDS is unset; medals are never awarded")
	}
	logger.Info("worker started", "tick_every", cfg.TickEvery.String(), "period_ends", cfg.TradePeriodEnds)
	svc.RunMedalLoop(ctx, cfg.TickEvery)
	logger.Info("worker shutdown")
}
