package main

import (
	"context"
	"log"

	"go.uber.org/fx"

	"bot_fleet/internal/metrics"
	"bot_fleet/internal/modules/botstore"
	"bot_fleet/internal/modules/config"
	"bot_fleet/internal/modules/events"
	"bot_fleet/internal/modules/exchange"
	"bot_fleet/internal/modules/heartbeat"
	"bot_fleet/internal/modules/monitor"
	"bot_fleet/internal/modules/opsapi"
	"bot_fleet/internal/modules/postgres"
	"bot_fleet/internal/modules/redisclient"
	"bot_fleet/internal/modules/runner"
	"bot_fleet/internal/modules/strategy"
	"bot_fleet/internal/notify"
	"bot_fleet/pkg/logger"
	"bot_fleet/pkg/tracing"
)

func main() {
	if err := logger.Init(); err != nil {
		log.Fatal(err)
	}

	app := fx.New(
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
			// Notifier: если TELEGRAM_* нет — используем stdout.
			func(cfg *config.Config) notify.Notifier {
				if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
					if tg, err := notify.NewTelegram(cfg.Telegram.Token, cfg.Telegram.ChatID); err == nil {
						return tg
					}
					logger.Error("[MAIN] telegram notifier init failed, falling back to stdout")
				}
				return notify.NewStdout()
			},
		),
		fx.Invoke(setupObservability),
		config.Module(),
		metrics.Module(),
		postgres.Module(),
		redisclient.Module(),
		exchange.Module(),
		botstore.Module(),
		heartbeat.Module(),
		opsapi.Module(),
		events.Module(),
		strategy.Module(),
		runner.Module(),
		monitor.Module(),
	)
	app.Run()
}

func setupObservability(lc fx.Lifecycle, cfg *config.Config) error {
	logger.SetServiceName(cfg.Service.Name)
	if !cfg.Tracing.Enabled {
		return nil
	}

	tracing.SetServiceName(cfg.Service.Name)
	_, closeTracer, err := tracing.InitTracer(tracing.Config{
		Host: cfg.Tracing.Host,
		Port: cfg.Tracing.Port,
	})
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closeTracer()
			return nil
		},
	})
	return nil
}
