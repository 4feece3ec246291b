// Package infra opens the external backends the server runs on.
package infra

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/msplit/msplit/internal/config"
)

// Backends holds the optional Postgres and Redis handles. A nil field means
// the in-memory implementation is used instead, which config only allows in
// development.
type Backends struct {
	DB    *pgxpool.Pool
	Cache *redis.Client

	logger *slog.Logger
}

// Connect opens every backend configured in cfg. Empty URLs are skipped.
func Connect(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backends, error) {
	b := &Backends{logger: logger}

	if cfg.DatabaseURL != "" {
		db, err := NewPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		b.DB = db
	} else {
		logger.Warn("DATABASE_URL not set, identities are kept in memory")
	}

	if cfg.RedisURL != "" {
		cache, err := NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.Cache = cache
	} else {
		logger.Warn("REDIS_URL not set, sessions and device state are kept in memory")
	}

	return b, nil
}

// Close releases whatever Connect opened.
func (b *Backends) Close() {
	if b.Cache != nil {
		if err := b.Cache.Close(); err != nil {
			b.logger.Warn("close redis", "error", err)
		}
	}
	if b.DB != nil {
		b.DB.Close()
	}
}
