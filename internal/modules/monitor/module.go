package monitor

import (
	"context"

	"go.uber.org/fx"

	"bot_fleet/internal/metrics"
	botstore "bot_fleet/internal/modules/botstore/service"
	"bot_fleet/internal/modules/config"
	hbsvc "bot_fleet/internal/modules/heartbeat/service"
	"bot_fleet/internal/modules/monitor/service"
	opssvc "bot_fleet/internal/modules/opsapi/service"
	"bot_fleet/internal/notify"
)

// Module вешает health-монитор на lifecycle рядом с раннером.
func Module() fx.Option {
	return fx.Module("monitor",
		fx.Provide(
			func(
				cfg *config.Config,
				store botstore.Store,
				beats hbsvc.Store,
				notifier notify.Notifier,
				hub *opssvc.Hub,
				m *metrics.Metrics,
				state *opssvc.State,
			) *service.Monitor {
				return service.NewMonitor(service.Config{
					Tick:        cfg.MonitorTick(),
					CallTimeout: cfg.CallTimeout(),
					Defaults:    cfg.DefaultHealthConfig(),
				}, store, beats, notifier, hub, m, state)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, m *service.Monitor, ctx context.Context) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go m.Run(ctx)
					return nil
				},
				OnStop: func(stopCtx context.Context) error {
					return m.Stop(stopCtx)
				},
			})
		}),
	)
}
