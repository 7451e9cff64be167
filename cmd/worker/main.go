package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pos/internal/app"
	"github.com/noah-isme/toko-pos/internal/config"
	"github.com/noah-isme/toko-pos/internal/events"
	"github.com/noah-isme/toko-pos/internal/lock"
	"github.com/noah-isme/toko-pos/internal/obs"
	"github.com/noah-isme/toko-pos/internal/queue"
	"github.com/noah-isme/toko-pos/internal/resilience"
)

func main() {
	cfg := config.MustLoad()

	logger := obs.NewLogger(cfg.Obs.LogFormat, cfg.Obs.LogLevel).With().Str("component", "worker").Logger()
	if cfg.Obs.EnablePrometheus {
		obs.MustRegisterDomainMetrics(cfg.Obs.MetricsNamespace, nil)
		if err := resilience.RegisterMetrics(nil); err != nil {
			logger.Error().Err(err).Msg("register breaker metrics")
		}
		if err := queue.RegisterMetrics(nil); err != nil {
			logger.Error().Err(err).Msg("register queue metrics")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RedisURL == "" {
		logger.Fatal().Msg("REDIS_URL is required by the worker")
	}

	startCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	deps, err := app.Build(startCtx, cfg, &logger, app.Options{ApplicationName: "toko-pos-worker"})
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error().Err(err).Msg("close dependencies")
		}
	}()

	mux, err := queue.NewMux(map[string]queue.HandlerFunc{
		queue.KindSaleReport: deps.Analytics.HandleTask,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("build task mux")
	}
	connOpt, err := app.RedisConnOpt(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("queue connection")
	}
	server := queue.NewServer(connOpt, queue.WorkerConfig{
		Concurrency: cfg.QueueConcurrency,
		RetryBase:   cfg.QueueRetryBase,
		RetryJitter: cfg.QueueRetryJitter,
	}, &logger)

	locker := lock.Locker{R: deps.Redis}
	go redeliverLoop(ctx, deps.Bus, locker, cfg.RedeliverInterval, logger)

	logger.Info().Int("concurrency", cfg.QueueConcurrency).Msg("worker starting")
	if err := server.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start task server")
	}
	<-ctx.Done()
	server.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}

// redeliverLoop re-dispatches outbox events whose post-commit delivery
// failed. One worker at a time holds the lock.
func redeliverLoop(ctx context.Context, bus *events.Bus, locker lock.Locker, every time.Duration, logger zerolog.Logger) {
	if every <= 0 {
		every = 30 * time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		err := locker.TryWithLock(ctx, "events:redeliver", every, func(ctx context.Context) error {
			n, err := bus.Redeliver(ctx, 100)
			if n > 0 {
				logger.Info().Int("count", n).Msg("events redelivered")
			}
			return err
		})
		if err != nil && !errors.Is(err, lock.ErrHeld) && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("redeliver events")
		}
	}
}
