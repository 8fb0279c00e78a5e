package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
	"go.uber.org/zap"
)

type PoolOptions struct {
	MaxConns int32
	MinConns int32
	// Logger receives pgx trace output at LogLevel. Nil disables query logging.
	Logger   *zap.Logger
	LogLevel tracelog.LogLevel
}

func DefaultPoolOptions(log *zap.Logger) PoolOptions {
	return PoolOptions{
		MaxConns: 10,
		MinConns: 1,
		Logger:   log,
		LogLevel: tracelog.LogLevelWarn,
	}
}

func ConnectPostgres(ctx context.Context, dsn string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		cfg.MinConns = opts.MinConns
	}
	cfg.HealthCheckPeriod = 30 * time.Second
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 15 * time.Minute

	if opts.Logger != nil {
		cfg.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   zapTraceLogger{log: opts.Logger.Named("pgx")},
			LogLevel: opts.LogLevel,
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return pool, nil
}

type zapTraceLogger struct {
	log *zap.Logger
}

func (l zapTraceLogger) Log(_ context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	fields := make([]zap.Field, 0, len(data))
	for k, v := range data {
		fields = append(fields, zap.Any(k, v))
	}

	switch level {
	case tracelog.LogLevelTrace, tracelog.LogLevelDebug:
		l.log.Debug(msg, fields...)
	case tracelog.LogLevelInfo:
		l.log.Info(msg, fields...)
	case tracelog.LogLevelWarn:
		l.log.Warn(msg, fields...)
	default:
		l.log.Error(msg, fields...)
	}
}
