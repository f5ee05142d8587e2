package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/accessflow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("redis",
	fx.Provide(NewClient, NewLocker),
)

// NewClient builds the shared key/value client used by the idempotency
// cache, rate limiter and work queues. An unreachable server at start is
// logged, not fatal: callers degrade per operation.
func NewClient(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) *goredis.Client {
	log = log.Named("redis")
	rc := cfg.Redis
	client := goredis.NewClient(&goredis.Options{
		Addr:         rc.Addr,
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		DialTimeout:  rc.Timeout,
		ReadTimeout:  rc.Timeout,
		WriteTimeout: rc.Timeout,
	})

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := client.Ping(pingCtx).Err(); err != nil {
				log.Warn("redis unreachable at startup", zap.String("addr", rc.Addr), zap.Error(err))
				return nil
			}
			log.Info("connected to redis", zap.String("addr", rc.Addr))
			return nil
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})

	return client
}
