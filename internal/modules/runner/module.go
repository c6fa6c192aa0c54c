package runner

import (
	"context"

	"go.uber.org/fx"

	"bot_fleet/internal/metrics"
	botstore "bot_fleet/internal/modules/botstore/service"
	"bot_fleet/internal/modules/config"
	exchsvc "bot_fleet/internal/modules/exchange/service"
	opssvc "bot_fleet/internal/modules/opsapi/service"
	"bot_fleet/internal/modules/runner/service"
	stratsvc "bot_fleet/internal/modules/strategy/service"
)

// Module регистрируем раннер как fx-провайдер и вешаем его луп на
// lifecycle приложения.
func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			func(
				cfg *config.Config,
				store botstore.Store,
				registry *exchsvc.Registry,
				creds exchsvc.CredentialSource,
				factory *stratsvc.Factory,
				m *metrics.Metrics,
				state *opssvc.State,
			) *service.Runner {
				return service.NewRunner(service.Config{
					Tick:         cfg.RunnerTick(),
					CycleTimeout: cfg.CycleTimeout(),
					CallTimeout:  cfg.CallTimeout(),
				}, store, registry, creds, factory, m, state)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, r *service.Runner, ctx context.Context) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go r.Run(ctx)
					return nil
				},
				OnStop: func(stopCtx context.Context) error {
					return r.Stop(stopCtx)
				},
			})
		}),
	)
}
