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

	"github.com/hackgods/handyman-booking/internal/api"
	"github.com/hackgods/handyman-booking/internal/app"
	"github.com/hackgods/handyman-booking/internal/config"
	"github.com/hackgods/handyman-booking/internal/db"
	"github.com/hackgods/handyman-booking/internal/identity"
	"github.com/hackgods/handyman-booking/internal/notification"
	"github.com/hackgods/handyman-booking/internal/obs"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := app.NewLogger(cfg, "api-server")
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("api-server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	logger.Info("api-server starting up", zap.String("env", cfg.Env), zap.String("http_port", cfg.HTTPPort))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := obs.InitTracer(rootCtx, "api-server", cfg.OTLPEndpoint, cfg.Version, cfg.Env)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	pgPool, err := app.ConnectPostgres(rootCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer pgPool.Close()

	applied, err := db.Migrate(rootCtx, pgPool)
	if err != nil {
		return err
	}
	if len(applied) > 0 {
		logger.Info("applied migrations", zap.Strings("files", applied))
	}

	rdb, err := app.ConnectRedis(rootCtx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("error closing redis", zap.Error(err))
		}
	}()

	gateway, err := app.NewGateway(cfg, logger)
	if err != nil {
		return err
	}
	publisher, closePublisher, err := app.NewPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	verifier, err := identity.NewVerifier(cfg.JWTSecret, cfg.JWTPublicKey, cfg.JWTIssuer)
	if err != nil {
		return err
	}
	limiter, err := app.NewRateLimiter(cfg, rdb)
	if err != nil {
		return err
	}

	svc := app.NewBookingService(cfg, pgPool, rdb, gateway, publisher, logger)

	router := api.NewRouter(api.RouterConfig{
		Service:       svc,
		Notifications: notification.NewStore(rdb),
		Verifier:      verifier,
		Limiter:       limiter,
		WebhookSecret: cfg.StripeWebhookSecret,
		HealthChecks: []api.DependencyCheck{
			{Name: "postgres", Critical: true, Ping: pgPool.Ping},
			{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		},
		UnreadPoll: cfg.UnreadPollInterval.Std(),
		Logger:     logger.Named("http"),
		Env:        cfg.Env,
		Version:    cfg.Version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-rootCtx.Done():
	}

	logger.Info("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Std())
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
