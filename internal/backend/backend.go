// Package backend opens the permission store selected by configuration.
package backend

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"qazna.org/access/internal/access"
	"qazna.org/access/internal/config"
	"qazna.org/access/internal/store/instrumented"
	"qazna.org/access/internal/store/memory"
	"qazna.org/access/internal/store/pg"
	"qazna.org/access/internal/store/redisstore"
)

// Open connects to the configured backend, verifies it answers and wraps it with
// metrics. The returned close function releases the connection pool.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (access.Store, func() error, error) {
	var (
		inner access.Store
		closeFn = func() error { return nil }
	)
	switch cfg.Backend {
	case config.BackendMemory:
		inner = memory.New()
	case config.BackendPostgres:
		st, err := pg.Open(cfg.Postgres.DSN, pg.PoolConfig{
			MaxOpenConns:    cfg.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Postgres.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Postgres.ConnMaxIdleTime,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		inner, closeFn = st, st.Close
	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		inner = redisstore.New(rdb,
			redisstore.WithPrefix(cfg.Redis.Prefix),
			redisstore.WithMaxRetries(cfg.Redis.MaxRetries),
		)
		closeFn = rdb.Close
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := inner.Ping(pingCtx); err != nil {
		_ = closeFn()
		return nil, nil, fmt.Errorf("ping %s: %w", cfg.Backend, err)
	}
	logger.Info("permission store ready", "backend", cfg.Backend)
	return instrumented.Wrap(inner, cfg.Backend, logger), closeFn, nil
}

// ServiceOptions translates configuration into service options.
func ServiceOptions(cfg *config.Config, logger *slog.Logger) []access.Option {
	opts := []access.Option{
		access.WithLogger(logger),
		access.WithBulkLimit(cfg.Access.BulkLimit),
	}
	if cfg.Access.StrictUUIDIDs {
		opts = append(opts, access.WithIDValidator(access.UUIDValidator))
	}
	return opts
}
