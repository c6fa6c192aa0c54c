package service

import (
	"fmt"

	"bot_fleet/internal/models"
	exch "bot_fleet/internal/modules/exchange/service"
)

// Factory builds the executor matching a bot's strategy kind. One executor
// per running bot, owned by the runner.
type Factory struct {
	deps Deps
}

func NewFactory(deps Deps) *Factory {
	return &Factory{deps: deps.withDefaults()}
}

func (f *Factory) New(bot models.Bot, gw exch.Gateway) (Executor, error) {
	switch bot.Strategy {
	case models.StrategyVolume:
		if bot.VolumeCfg == nil {
			return nil, fmt.Errorf("bot %d: volume bot without volume config", bot.ID)
		}
		return NewVolume(bot, gw, f.deps), nil
	case models.StrategySpread:
		if bot.SpreadCfg == nil {
			return nil, fmt.Errorf("bot %d: spread bot without spread config", bot.ID)
		}
		return NewSpread(bot, gw, f.deps), nil
	default:
		return nil, fmt.Errorf("bot %d: unknown strategy %q", bot.ID, bot.Strategy)
	}
}
