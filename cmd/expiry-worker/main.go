package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/clinic-booking/internal/booking"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
	"github.com/hackgods/clinic-booking/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Default().Fatal("config load error", "error", err)
	}

	logger := logging.New(cfg.LogLevel).With("service", "expiry-worker", "env", cfg.Env)
	logger.Info("expiry-worker starting up", "interval", cfg.WorkerInterval, "max_age", cfg.StalePendingAge)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 2})
	cancelPg()
	if err != nil {
		logger.Fatal("postgres connection error", "error", err)
	}
	defer pgPool.Close()
	logger.Info("connected to Postgres")

	repo := booking.NewPgRepository(pgPool)
	// Cleanup never takes slot locks.
	svc := booking.NewService(repo, redisclient.NoopLocker(), cfg.Booking, booking.WithLogger(logger.With("component", "booking")))

	// Run once at startup
	runOnce(rootCtx, logger, svc, cfg.StalePendingAge)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, logger, svc, cfg.StalePendingAge)
		}
	}
}

func runOnce(ctx context.Context, logger *logging.Logger, svc *booking.Service, maxAge time.Duration) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.CleanupStalePendingBookings(runCtx, maxAge)
	if err != nil {
		logger.Error("expiry run error", "error", err)
		return
	}
	logger.Info("expiry run complete", "expired", n, "duration", time.Since(start))
}
