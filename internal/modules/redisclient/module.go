package redisclient

import (
	"context"

	"bot_fleet/internal/modules/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// Module регистрируем как fx-провайдер. Без REDIS_ADDR клиент остаётся nil
// и heartbeat поднимает in-memory хранилище.
func Module() fx.Option {
	return fx.Module("redisclient",
		fx.Provide(
			func(ctx context.Context, lc fx.Lifecycle, cfg *config.Config) (*redis.Client, error) {
				if cfg.Redis.Addr == "" {
					return nil, nil
				}

				client := redis.NewClient(&redis.Options{
					Addr:     cfg.Redis.Addr,
					Password: cfg.Redis.Password,
					DB:       cfg.Redis.DB,
				})
				if err := client.Ping(ctx).Err(); err != nil {
					return nil, err
				}

				lc.Append(fx.Hook{
					OnStop: func(context.Context) error {
						return client.Close()
					},
				})
				return client, nil
			},
		),
	)
}
