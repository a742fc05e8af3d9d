package database

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"triple-impacto/internal/config"
)

// ConnectRedis returns nil, nil when no Redis host is configured.
func ConnectRedis(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (*redis.Client, error) {
	if cfg.RedisHost == "" {
		logger.Warn("REDIS_HOST not set, notification delivery guard disabled")
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       0,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := rdb.Ping(pingCtx).Result(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Connected to Redis")
	return rdb, nil
}
