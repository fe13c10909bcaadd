package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type StoreConfig struct {
	Driver      string
	DatabaseURL string
	SQLitePath  string
	MaxConns    int32
}

type APIConfig struct {
	Addr  string
	Store StoreConfig

	Guard            string
	RedisAddr        string
	RedisPassword    string
	RedisDB          int
	GuardPrefix      string
	GuardInflightTTL time.Duration
	GuardSweepEvery  time.Duration

	TokenSecret     string
	TradeDuration   time.Duration
	TradePeriodEnds time.Time
	Env             string
	SeedWorld       bool
	SeedPlayers     int
	TradeRPS        float64
	TradeBurst      int
	// MedalsEvery drives the in-process medal loop of sqlite and memory deployments.
	MedalsEvery time.Duration
}

// AllowCooldownOverride reports whether trade requests may carry the zero-cooldown override.
func (c APIConfig) AllowCooldownOverride() bool {
	return strings.EqualFold(c.Env, "test")
}

type WorkerConfig struct {
	Store           StoreConfig
	TradePeriodEnds time.Time
	TickEvery       time.Duration
	RunOnce         bool
}

type CLIConfig struct {
	APIBaseURL string
}

func LoadAPIFromEnv() (APIConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("BUFFICORNS_API_ADDR", ":8080")
	}

	store, err := loadStore()
	if err != nil {
		return APIConfig{}, err
	}
	periodEnds, err := envTimeDefault("BUFFICORNS_TRADE_PERIOD_ENDS", time.Time{})
	if err != nil {
		return APIConfig{}, err
	}
	cfg := APIConfig{
		Addr:             addr,
		Store:            store,
		Guard:            strings.ToLower(envDefault("BUFFICORNS_GUARD", "memory")),
		RedisAddr:        envDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		RedisDB:          envIntDefault("REDIS_DB", 0),
		GuardPrefix:      envDefault("BUFFICORNS_GUARD_PREFIX", "bufficorns:guard"),
		GuardInflightTTL: envDurationDefault("BUFFICORNS_GUARD_INFLIGHT_TTL", 30*time.Second),
		GuardSweepEvery:  envDurationDefault("BUFFICORNS_GUARD_SWEEP_EVERY", 30*time.Second),
		TokenSecret:      strings.TrimSpace(os.Getenv("BUFFICORNS_TOKEN_SECRET")),
		TradeDuration:    envDurationDefault("BUFFICORNS_TRADE_DURATION", 5*time.Minute),
		TradePeriodEnds:  periodEnds,
		Env:              strings.ToLower(envDefault("BUFFICORNS_ENV", "production")),
		SeedWorld:        envBoolDefault("BUFFICORNS_SEED_WORLD", true),
		SeedPlayers:      envIntDefault("BUFFICORNS_SEED_PLAYERS", 48),
		TradeRPS:         envFloatDefault("BUFFICORNS_TRADE_RPS", 2),
		TradeBurst:       envIntDefault("BUFFICORNS_TRADE_BURST", 4),
		MedalsEvery:      envDurationDefault("BUFFICORNS_MEDALS_EVERY", time.Minute),
	}
	if cfg.Guard != "memory" && cfg.Guard != "redis" {
		return cfg, fmt.Errorf("BUFFICORNS_GUARD must be memory or redis, got %q", cfg.Guard)
	}
	if cfg.TokenSecret == "" {
		return cfg, fmt.Errorf("BUFFICORNS_TOKEN_SECRET is required")
	}
	if cfg.TradeDuration <= 0 {
		return cfg, fmt.Errorf("BUFFICORNS_TRADE_DURATION must be positive")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	store, err := loadStore()
	if err != nil {
		return WorkerConfig{}, err
	}
	if store.Driver != "postgres" {
		return WorkerConfig{}, fmt.Errorf("the worker needs the postgres store, %s deployments award medals in the api process", store.Driver)
	}
	periodEnds, err := envTimeDefault("BUFFICORNS_TRADE_PERIOD_ENDS", time.Time{})
	if err != nil {
		return WorkerConfig{}, err
	}
	return WorkerConfig{
		Store:           store,
		TradePeriodEnds: periodEnds,
		TickEvery:       envDurationDefault("BUFFICORNS_WORKER_TICK_EVERY", time.Minute),
		RunOnce:         envBoolDefault("BUFFICORNS_WORKER_RUN_ONCE", false),
	}, nil
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("BUF_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func loadStore() (StoreConfig, error) {
	cfg := StoreConfig{
		Driver:      strings.ToLower(envDefault("BUFFICORNS_STORE", "postgres")),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:  envDefault("BUFFICORNS_SQLITE_PATH", "bufficorns.db"),
		MaxConns:    int32(envIntDefault("BUFFICORNS_DB_MAX_CONNS", 20)),
	}
	switch cfg.Driver {
	case "postgres":
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required")
		}
	case "sqlite", "memory":
	default:
		return cfg, fmt.Errorf("BUFFICORNS_STORE must be postgres, sqlite or memory, got %q", cfg.Driver)
	}
	return cfg, nil
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envFloatDefault(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// envTimeDefault parses an RFC3339 instant. Unlike the other helpers a malformed value
// is an error, not a fallback.
func envTimeDefault(key string, fallback time.Time) (time.Time, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return fallback, fmt.Errorf("%s must be RFC3339: %w", key, err)
	}
	return t.UTC(), nil
}
