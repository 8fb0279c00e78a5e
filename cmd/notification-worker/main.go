package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/hackgods/handyman-booking/internal/app"
	"github.com/hackgods/handyman-booking/internal/config"
	"github.com/hackgods/handyman-booking/internal/events"
	"github.com/hackgods/handyman-booking/internal/notification"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := app.NewLogger(cfg, "notification-worker")
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.RabbitURL == "" {
		logger.Fatal("RABBIT_URL is required for the notification worker")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := app.ConnectRedis(rootCtx, cfg, logger)
	if err != nil {
		logger.Fatal("redis connection error", zap.Error(err))
	}
	defer func() { _ = rdb.Close() }()

	var mailer notification.Mailer
	if cfg.SMTPHost != "" {
		mailer = notification.NewSMTPMailer(notification.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	} else {
		logger.Info("SMTP_HOST not set, e-mail notifications disabled")
	}
	handler := notification.NewHandler(notification.NewStore(rdb), mailer, logger.Named("notify"))

	consumer, err := events.NewConsumer(cfg.RabbitURL, cfg.EventsExchange, cfg.NotifyQueue,
		[]string{"booking.*", "payment.*"}, 20)
	if err != nil {
		logger.Fatal("rabbitmq consumer error", zap.Error(err))
	}
	defer func() { _ = consumer.Close() }()

	logger.Info("notification worker consuming",
		zap.String("exchange", cfg.EventsExchange),
		zap.String("queue", cfg.NotifyQueue),
	)

	err = consumer.Run(rootCtx, handler.Handle, func(key string, err error) {
		if key == "" {
			logger.Warn("rabbitmq connection lost, reconnecting", zap.Error(err))
			return
		}
		logger.Warn("notification handling failed", zap.String("routing_key", key), zap.Error(err))
	})
	if err != nil && rootCtx.Err() == nil {
		logger.Fatal("consumer stopped", zap.Error(err))
	}
	logger.Info("notification worker stopped")
}
