package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crewcommand_backend/internal/followups"
	"crewcommand_backend/internal/followups/service"
	"crewcommand_backend/internal/followups/templates"
	apphttp "crewcommand_backend/internal/http"
	"crewcommand_backend/internal/http/router"
	"crewcommand_backend/internal/identity"
	"crewcommand_backend/internal/messaging"
	"crewcommand_backend/internal/scheduler"
	"crewcommand_backend/internal/sync"
	"crewcommand_backend/migrations"
	"crewcommand_backend/platform/config"
	"crewcommand_backend/platform/db"
	"crewcommand_backend/platform/logger"
	"crewcommand_backend/platform/metrics"
	"crewcommand_backend/platform/monitoring"
	"crewcommand_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// release is stamped at build time with -ldflags "-X main.release=...".
var release = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr, "release", release)

	flush, err := monitoring.Init(cfg, release)
	if err != nil {
		log.Warn("sentry disabled", "error", err)
	}
	if flush != nil {
		defer flush()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

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
	log.Info("database connection established")

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, pool, migrations.FS)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

	readiness := map[string]apphttp.HealthChecker{"database": db.NewPoolAdapter(pool)}

	wake, closeWake := initWakeScheduler(cfg, log)
	if closeWake != nil {
		defer closeWake()
	}
	if pinger := newRedisPinger(cfg, log); pinger != nil {
		defer func() { _ = pinger.client.Close() }()
		readiness["redis"] = pinger
	}

	var appMetrics *metrics.Metrics
	if cfg.IsMetricsEnabled() {
		appMetrics = metrics.New()
	}

	defaultTemplates, err := templates.Defaults()
	if err != nil {
		panic("failed to load default templates: " + err.Error())
	}

	// Shared validator instance for dependency injection
	val := validator.New()
	sender := messaging.NewSender(cfg, log)

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	identityModule := identity.NewModule(pool, defaultTemplates, val, log)
	syncModule := sync.NewModule(pool, val, log, appMetrics, cfg.GetPhoneDefaultRegion())
	followupsModule := followups.NewModule(pool, sender, wake, cfg, val, log, appMetrics)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:          cfg,
		Logger:          log,
		Readiness:       readiness,
		Metrics:         appMetrics,
		ProfileResolver: identityModule.ProfileResolver(),
		Modules: []apphttp.Module{
			identityModule,
			syncModule,
			followupsModule,
		},
	}

	engine := router.New(app)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

func initWakeScheduler(cfg config.SchedulerConfig, log *logger.Logger) (service.WakeScheduler, func()) {
	if cfg.GetRedisURL() == "" {
		log.Warn("REDIS_URL not configured; follow-up wake-ups disabled, relying on periodic dispatch")
		return nil, nil
	}

	client, err := scheduler.NewClient(cfg)
	if err != nil {
		log.Error("failed to initialize scheduler client", "error", err)
		return nil, nil
	}

	return client, func() {
		_ = client.Close()
	}
}

type redisPinger struct {
	client *redis.Client
}

func (p *redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func newRedisPinger(cfg config.SchedulerConfig, log *logger.Logger) *redisPinger {
	if cfg.GetRedisURL() == "" {
		return nil
	}
	opt, err := redis.ParseURL(cfg.GetRedisURL())
	if err != nil {
		log.Error("invalid REDIS_URL; redis readiness check disabled", "error", err)
		return nil
	}
	return &redisPinger{client: redis.NewClient(opt)}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
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
