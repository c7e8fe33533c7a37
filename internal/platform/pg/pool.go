// Package pg открывает пул PostgreSQL на pgx и применяет встроенные миграции.
package pg

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"taskscheduler/pkg/retry"
)

// Config описывает подключение хранилища истории.
type Config struct {
	DSN string
	// AppName попадает в pg_stat_activity (по умолчанию taskscheduler).
	AppName  string
	MaxConns int32
	MinConns int32
	// ConnectAttempts - сколько раз пробовать Ping, пока база поднимается.
	ConnectAttempts int
	PingTimeout     time.Duration
	Logger          *slog.Logger
}

func (c *Config) setDefaults() {
	if c.AppName == "" {
		c.AppName = "taskscheduler"
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 8
	}
	if c.MinConns < 0 || c.MinConns > c.MaxConns {
		c.MinConns = 0
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = 1
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Connect создает пул и ждёт, пока база ответит на Ping.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	cfg.setDefaults()

	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	pcfg.MaxConns = cfg.MaxConns
	pcfg.MinConns = cfg.MinConns
	pcfg.MaxConnIdleTime = 10 * time.Minute
	pcfg.ConnConfig.RuntimeParams["application_name"] = cfg.AppName

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}

	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.ConnectAttempts
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		cfg.Logger.Warn("postgres not ready", slog.Int("attempt", attempt), slog.Any("err", err), slog.Duration("retry_in", delay))
	}
	_, err = retry.Do(ctx, policy, func(ctx context.Context, _ int) error {
		pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
		defer cancel()
		return pool.Ping(pingCtx)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}
