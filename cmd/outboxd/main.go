// Command outboxd runs the outbox dispatcher daemon: it polls the
// Postgres outbox table and routes due messages onto Redis-backed
// downstream queues.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"

	"github.com/julianshaw2000/property-sub001/outbox"
	"github.com/julianshaw2000/property-sub001/outbox/backoff"
	"github.com/julianshaw2000/property-sub001/outbox/observability"
	redisqueue "github.com/julianshaw2000/property-sub001/outbox/queue/redis"
	pgstore "github.com/julianshaw2000/property-sub001/outbox/store/postgres"
)

func main() {
	if err := run(); err != nil {
		slog.Error("outboxd exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := pgstore.New(ctx, cfg.PostgresDSN, pgstore.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	redisClient := goredis.NewClient(&goredis.Options{
		Addr: cfg.RedisAddr,
		DB:   cfg.RedisDB,
	})
	defer func() { _ = redisClient.Close() }()

	q := redisqueue.New(redisClient, redisqueue.WithLogger(logger))
	if err := q.Ping(ctx); err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}

	router, err := outbox.NewRouter(q, outbox.DefaultRoutes())
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	strategy, err := backoffStrategy(cfg)
	if err != nil {
		return err
	}

	dispatcher, err := outbox.New(store, router,
		outbox.WithLogger(logger),
		outbox.WithPollInterval(cfg.PollInterval()),
		outbox.WithBatchSize(cfg.BatchSize),
		outbox.WithMaxRetries(cfg.MaxRetries),
		outbox.WithEnqueueTimeout(cfg.EnqueueTimeout()),
		outbox.WithPendingInterval(cfg.PendingInterval()),
		outbox.WithWorkers(cfg.Workers),
		outbox.WithBackoff(strategy),
		outbox.WithMetrics(observability.NewMetrics()),
	)
	if err != nil {
		return fmt.Errorf("build dispatcher: %w", err)
	}

	logger.Info("outboxd starting",
		slog.String("redis", cfg.RedisAddr),
		slog.Int("batch_size", cfg.BatchSize),
		slog.String("backoff", cfg.BackoffStrategy))

	return dispatcher.Run(ctx)
}

func backoffStrategy(cfg *Config) (backoff.Strategy, error) {
	switch cfg.BackoffStrategy {
	case "fixed":
		return backoff.NewConstant(cfg.Backoff()), nil
	case "linear":
		return backoff.NewLinear(cfg.Backoff(), cfg.BackoffMax()), nil
	case "exponential":
		return backoff.NewExponential(cfg.Backoff(), cfg.BackoffMax()), nil
	case "exponential-jitter":
		return backoff.NewExponentialWithJitter(cfg.Backoff(), cfg.BackoffMax()), nil
	default:
		return nil, fmt.Errorf("unknown backoff strategy %q", cfg.BackoffStrategy)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
