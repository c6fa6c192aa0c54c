package heartbeat

import (
	"bot_fleet/internal/modules/config"
	"bot_fleet/internal/modules/heartbeat/service"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

// Module выбирает хранилище heartbeat: redis при REDIS_ADDR, иначе память.
func Module() fx.Option {
	return fx.Module("heartbeat",
		fx.Provide(
			func(cfg *config.Config, client *redis.Client) service.Store {
				if client != nil {
					return service.NewRedis(client, cfg.HeartbeatTTL())
				}
				return service.NewMemory(cfg.HeartbeatTTL())
			},
		),
	)
}
