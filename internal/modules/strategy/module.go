package strategy

import (
	"go.uber.org/fx"

	"bot_fleet/internal/metrics"
	botstore "bot_fleet/internal/modules/botstore/service"
	"bot_fleet/internal/modules/config"
	events "bot_fleet/internal/modules/events/service"
	"bot_fleet/internal/modules/strategy/service"
)

func provider(cfg *config.Config, store botstore.Store, pub events.Publisher, m *metrics.Metrics) *service.Factory {
	return service.NewFactory(service.Deps{
		Store:       store,
		Events:      pub,
		Metrics:     m,
		CallTimeout: cfg.CallTimeout(),
	})
}

func Module() fx.Option {
	return fx.Module("strategy",
		// регистрируем как fx-провайдер.
		fx.Provide(provider),
	)
}
