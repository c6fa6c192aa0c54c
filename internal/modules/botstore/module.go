package botstore

import (
	"context"
	"time"

	"bot_fleet/internal/helper"
	"bot_fleet/internal/modules/botstore/service"
	pgstore "bot_fleet/internal/modules/botstore/service/pg"
	"bot_fleet/internal/modules/config"
	"bot_fleet/pkg/db"
	"bot_fleet/pkg/logger"

	"go.uber.org/fx"
)

// Module выбирает хранилище: postgres при DATABASE_DSN, иначе память с
// ботами из yaml (dev-режим).
func Module() fx.Option {
	return fx.Module("botstore",
		fx.Provide(
			func(ctx context.Context, cfg *config.Config, txm *db.PgTxManager) (service.Store, error) {
				if txm != nil {
					return pgstore.NewStore(txm), nil
				}

				mem := service.NewMemory()
				now := time.Now().UTC()
				defaults := cfg.DefaultHealthConfig()
				for _, seed := range cfg.Bots {
					bot := seed.ToModel(defaults, now)
					bot.Counters.DayStart = helper.DayStartUTC(now)
					if err := mem.Create(ctx, &bot); err != nil {
						return nil, err
					}
					logger.Info("[BOTSTORE] seeded bot %d: %s %s on %s (%s)",
						bot.ID, bot.Strategy, bot.Pair, bot.Exchange, bot.Status)
				}
				return mem, nil
			},
		),
	)
}
