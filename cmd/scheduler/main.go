package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crewcommand_backend/internal/followups"
	"crewcommand_backend/internal/followups/repository"
	"crewcommand_backend/internal/messaging"
	"crewcommand_backend/internal/scheduler"
	"crewcommand_backend/platform/config"
	"crewcommand_backend/platform/db"
	"crewcommand_backend/platform/logger"
	"crewcommand_backend/platform/metrics"
	"crewcommand_backend/platform/monitoring"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"
)

var release = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env, "release", release)

	flush, err := monitoring.Init(cfg, release)
	if err != nil {
		log.Warn("sentry disabled", "error", err)
	}
	if flush != nil {
		defer flush()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	var workerMetrics *metrics.Metrics
	if cfg.IsMetricsEnabled() {
		workerMetrics = metrics.New()
	}

	// Worker-side dispatcher wiring (no HTTP handlers required).
	dispatcher := followups.NewDispatcher(repository.New(pool), messaging.NewSender(cfg, log), cfg, log, workerMetrics)

	worker, err := scheduler.NewWorker(cfg, dispatcher, log)
	if err != nil {
		log.Error("failed to initialize scheduler worker", "error", err)
		panic("failed to initialize scheduler worker: " + err.Error())
	}

	periodic, err := scheduler.NewPeriodic(cfg, log)
	if err != nil {
		log.Error("failed to initialize periodic scheduler", "error", err)
		panic("failed to initialize periodic scheduler: " + err.Error())
	}
	if err := periodic.Register(); err != nil {
		log.Error("failed to register periodic dispatch", "error", err)
		panic("failed to register periodic dispatch: " + err.Error())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return periodic.Run(gctx) })
	if workerMetrics != nil {
		srv := scheduler.NewMetricsServer(cfg.GetSchedulerMetricsAddr(), workerMetrics.Handler(), log)
		g.Go(func() error { return srv.Run(gctx) })
	}
	g.Go(func() error {
		worker.Run(gctx)
		if gctx.Err() == nil {
			return errors.New("scheduler worker exited")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		log.Error("scheduler stopped", "error", err)
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return errors.New(name + ": invalid retry attempts")
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
