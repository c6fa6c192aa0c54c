package events

import (
	"context"

	"bot_fleet/internal/modules/config"
	"bot_fleet/internal/modules/events/service"
	opssvc "bot_fleet/internal/modules/opsapi/service"
	"bot_fleet/pkg/logger"

	"go.uber.org/fx"
)

// Module публикует сделки в kafka (KAFKA_BROKERS) и в websocket-хаб;
// без брокеров остаётся только хаб.
func Module() fx.Option {
	return fx.Module("events",
		fx.Provide(
			func(lc fx.Lifecycle, cfg *config.Config, hub *opssvc.Hub) service.Publisher {
				var base service.Publisher = service.NewNoop()
				if len(cfg.Kafka.Brokers) > 0 {
					base = service.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.Topic)
					logger.Info("[EVENTS] kafka publisher on topic %s", cfg.Kafka.Topic)
				}

				pub := service.NewFan(base, hub)
				lc.Append(fx.Hook{
					OnStop: func(context.Context) error {
						return pub.Close()
					},
				})
				return pub
			},
		),
	)
}
