package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bufficorns/internal/api"
	"bufficorns/internal/auth"
	"bufficorns/internal/config"
	"bufficorns/internal/game"
	"bufficorns/internal/guard"
	"bufficorns/internal/metrics"
	"bufficorns/internal/store"

	"github.com/redis/go-redis/v9"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
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
		AppName:     "bufficorns-api",
	}, logger)
	if err != nil {
		logger.Error("store open failed", "err", err)
		os.Exit(1)
	}
	defer closer.Close()

	m := metrics.New()
	sending, receiving, err := openGuards(ctx, cfg, logger, m)
	if err != nil {
		logger.Error("guard init failed", "err", err)
		os.Exit(1)
	}

	signer, err := auth.NewSigner(cfg.TokenSecret)
	if err != nil {
		logger.Error("token signer init failed", "err", err)
		os.Exit(1)
	}

	gameSvc := game.NewService(repos, sending, receiving, signer, game.Rules{
		TradeDuration:         cfg.TradeDuration,
		PeriodEnds:            cfg.TradePeriodEnds,
		AllowCooldownOverride: cfg.AllowCooldownOverride(),
	}, logger, game.WithRecorder(m))

	if cfg.SeedWorld {
		seeded, err := gameSvc.SeedWorld(ctx, cfg.SeedPlayers)
		if err != nil {
			logger.Error("seed world failed", "err", err)
			os.Exit(1)
		}
		if seeded {
			logger.Info("world seeded", "players", cfg.SeedPlayers)
		}
	}
	if cfg.Store.Driver != store.DriverPostgres {
		go gameSvc.RunMedalLoop(ctx, cfg.MedalsEvery)
	}

	opts := api.Options{Metrics: m.Handler(), Requests: m}
	if cfg.TradeRPS > 0 {
		opts.TradeLimiter = api.NewLimiter(cfg.TradeRPS, cfg.TradeBurst)
		opts.TradeLimiter.StartJanitor(ctx)
	}
	server := api.New(logger, gameSvc, opts)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("bufficorns api listening",
		"addr", cfg.Addr,
		"store", cfg.Store.Driver,
		"guard", cfg.Guard,
		"trade_duration", cfg.TradeDuration.String(),
		"cooldown_override", cfg.AllowCooldownOverride(),
	)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}

// openGuards builds the sending and receiving registries. The memory guard only serializes
// trades inside this process; run a single api instance with it.
func openGuards(ctx context.Context, cfg config.APIConfig, logger *slog.Logger, m *metrics.Metrics) (game.SlotGuard, game.SlotGuard, error) {
	if cfg.Guard == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		go func() {
			<-ctx.Done()
			_ = rdb.Close()
		}()
		opts := []guard.RedisOption{guard.WithPrefix(cfg.GuardPrefix), guard.WithRedisInflightTTL(cfg.GuardInflightTTL)}
		logger.Info("redis guard connected", "addr", cfg.RedisAddr, "prefix", cfg.GuardPrefix)
		return guard.NewRedis(rdb, "sending", opts...), guard.NewRedis(rdb, "receiving", opts...), nil
	}

	newMemory := func() *guard.Memory {
		g := guard.NewMemory(
			guard.WithInflightTTL(cfg.GuardInflightTTL),
			guard.WithCleanupEvery(cfg.GuardSweepEvery),
			guard.WithLogger(logger),
		)
		g.StartJanitor(ctx)
		return g
	}
	sending, receiving := newMemory(), newMemory()
	m.WatchGuard("sending", sending.Len)
	m.WatchGuard("receiving", receiving.Len)
	return sending, receiving, nil
}
