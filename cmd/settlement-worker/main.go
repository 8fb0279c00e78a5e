package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/handyman-booking/internal/app"
	"github.com/hackgods/handyman-booking/internal/booking"
	"github.com/hackgods/handyman-booking/internal/config"
	"github.com/hackgods/handyman-booking/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := app.NewLogger(cfg, "settlement-worker")
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("settlement worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval.Std()),
		zap.Duration("stale_after", cfg.SettlementStaleAfter.Std()),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(rootCtx, "settlement-worker", cfg.OTLPEndpoint, cfg.Version, cfg.Env)
	if err != nil {
		logger.Fatal("tracer init error", zap.Error(err))
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	pgPool, err := app.ConnectPostgres(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()

	rdb, err := app.ConnectRedis(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	gateway, err := app.NewGateway(cfg, logger)
	if err != nil {
		logger.Fatal("payment gateway error", zap.Error(err))
	}
	publisher, closePublisher, err := app.NewPublisher(cfg, logger)
	if err != nil {
		logger.Fatal("publisher error", zap.Error(err))
	}
	defer closePublisher()

	svc := app.NewBookingService(cfg, pgPool, rdb, gateway, publisher, logger)

	// Run once at startup
	runOnce(rootCtx, svc, logger)

	ticker := time.NewTicker(cfg.WorkerInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info("shutdown signal received, stopping settlement worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service, logger *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 45*time.Second)
	defer cancel()

	start := time.Now()
	report, err := svc.ReconcilePendingCharges(runCtx)
	if err != nil {
		logger.Error("reconcile run error", zap.Error(err))
		return
	}
	logger.Info("reconcile run complete",
		zap.Duration("took", time.Since(start)),
		zap.Int("checked", report.Checked),
		zap.Int("settled", report.Settled),
		zap.Int("failed", report.Failed),
		zap.Int("pending", report.Pending),
		zap.Int("errors", report.Errors),
	)
}
