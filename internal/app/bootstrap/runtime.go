package bootstrap

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/clinic-frontdesk/internal/config"
	"github.com/wolfman30/clinic-frontdesk/internal/records"
	"github.com/wolfman30/clinic-frontdesk/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available; falling back to in-process state", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildRecordTables opens the Postgres record store, or in-memory tables when
// no DATABASE_URL is set. The returned func releases the pool.
func BuildRecordTables(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (records.Tables, func(), error) {
	if cfg == nil || strings.TrimSpace(cfg.DatabaseURL) == "" {
		if logger != nil {
			logger.Warn("DATABASE_URL not set; records are kept in memory and lost on restart")
		}
		return records.NewMemoryTables(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return records.Tables{}, nil, fmt.Errorf("bootstrap: open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return records.Tables{}, nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	return records.NewPostgresTables(pool), pool.Close, nil
}
