// Package app builds the shared dependencies of the service binaries from config.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v76"
	"github.com/ulule/limiter/v3"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/hackgods/handyman-booking/internal/booking"
	"github.com/hackgods/handyman-booking/internal/config"
	"github.com/hackgods/handyman-booking/internal/db"
	"github.com/hackgods/handyman-booking/internal/events"
	"github.com/hackgods/handyman-booking/internal/logger"
	"github.com/hackgods/handyman-booking/internal/payment"
	redisclient "github.com/hackgods/handyman-booking/internal/redis"
)

func NewLogger(cfg config.Config, service string) (*zap.Logger, error) {
	return logger.New(logger.Options{
		Production: cfg.IsProduction(),
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		Service:    service,
	})
}

func ConnectPostgres(ctx context.Context, cfg config.Config, log *zap.Logger) (*pgxpool.Pool, error) {
	pgCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.DefaultPoolOptions(log.Named("pgx")))
	if err != nil {
		return nil, err
	}
	log.Info("connected to Postgres")
	return pool, nil
}

func ConnectRedis(ctx context.Context, cfg config.Config, log *zap.Logger) (*redis.Client, error) {
	rdb, err := redisclient.Connect(ctx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return nil, err
	}
	log.Info("connected to Redis", zap.String("addr", cfg.RedisAddr))
	return rdb, nil
}

// NewGateway returns the Stripe gateway, or the in-memory sandbox when no key is configured
// outside production.
func NewGateway(cfg config.Config, log *zap.Logger) (payment.Gateway, error) {
	if cfg.StripeSecretKey != "" {
		backendCfg := &stripe.BackendConfig{
			MaxNetworkRetries: stripe.Int64(2),
			LeveledLogger:     stripeLogger{log.Named("stripe").Sugar()},
		}
		return payment.NewStripeGateway(cfg.StripeSecretKey, &stripe.Backends{
			API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg),
			Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
			Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
		}), nil
	}
	if cfg.IsProduction() {
		return nil, fmt.Errorf("STRIPE_SECRET_KEY is required in production")
	}
	log.Warn("STRIPE_SECRET_KEY not set, using sandbox payment gateway")
	return payment.NewSandboxGateway(), nil
}

// NewPublisher connects to RabbitMQ when configured. The returned close func is never nil.
func NewPublisher(cfg config.Config, log *zap.Logger) (events.Publisher, func(), error) {
	if cfg.RabbitURL == "" {
		log.Warn("RABBIT_URL not set, lifecycle events are not published")
		return events.NopPublisher{}, func() {}, nil
	}
	pub, err := events.NewRabbitPublisher(cfg.RabbitURL, cfg.EventsExchange)
	if err != nil {
		return nil, nil, fmt.Errorf("connect rabbitmq: %w", err)
	}
	log.Info("connected to RabbitMQ", zap.String("exchange", cfg.EventsExchange))
	return pub, func() {
		if err := pub.Close(); err != nil {
			log.Warn("close rabbitmq publisher", zap.Error(err))
		}
	}, nil
}

func NewBookingService(cfg config.Config, pool *pgxpool.Pool, rdb redis.UniversalClient, gw payment.Gateway, pub events.Publisher, log *zap.Logger) *booking.Service {
	return booking.NewService(
		booking.NewPgRepository(pool),
		redisclient.NewBookingLocker(rdb, cfg.LockTTL.Std()),
		gw,
		pub,
		booking.Options{
			Currency:             cfg.PaymentCurrency,
			SettlementStaleAfter: cfg.SettlementStaleAfter.Std(),
			Logger:               log,
		},
	)
}

func NewRateLimiter(cfg config.Config, rdb *redis.Client) (*limiter.Limiter, error) {
	rate, err := limiter.NewRateFromFormatted(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT %q: %w", cfg.RateLimit, err)
	}
	store, err := redisstore.NewStoreWithOptions(rdb, limiter.StoreOptions{
		Prefix:   "rate_limiter",
		MaxRetry: 3,
	})
	if err != nil {
		return nil, fmt.Errorf("rate limit store: %w", err)
	}
	return limiter.New(store, rate), nil
}

// stripeLogger routes stripe-go's leveled logging through zap.
type stripeLogger struct{ s *zap.SugaredLogger }

func (l stripeLogger) Debugf(format string, v ...interface{}) { l.s.Debugf(format, v...) }
func (l stripeLogger) Infof(format string, v ...interface{})  { l.s.Debugf(format, v...) }
func (l stripeLogger) Warnf(format string, v ...interface{})  { l.s.Warnf(format, v...) }
func (l stripeLogger) Errorf(format string, v ...interface{}) { l.s.Errorf(format, v...) }
