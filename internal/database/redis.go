package database

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
	"github.com/transitpay/backoffice/internal/logger"
)

// InitRedis initializes Redis client with config. Returns nil when Redis is unreachable.
func InitRedis(ctx context.Context) *redis.Client {
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	addr := viper.GetString("redis.host") + ":" + viper.GetString("redis.port")
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	})

	l := logger.FromContext(ctx)
	if err := rdb.Ping(ctx).Err(); err != nil {
		l.Warn().Err(err).Str("addr", addr).Msg("[REDIS] Connection failed, continuing without Redis")
		rdb.Close()
		return nil
	}

	l.Info().Str("addr", addr).Msg("[REDIS] Connection established")
	return rdb
}
