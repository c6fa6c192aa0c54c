package service

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"bot_fleet/internal/models"
	exch "bot_fleet/internal/modules/exchange/service"
	"bot_fleet/pkg/logger"
)

// Volume generates organic-looking turnover toward a daily notional target:
// market orders of random size at random intervals, with the side nudged
// back whenever the portfolio drifts too far from a 50/50 split.
type Volume struct {
	botID int64
	pair  string
	gw    exch.Gateway
	deps  Deps
	rng   *rand.Rand

	nextDue time.Time
}

func NewVolume(bot models.Bot, gw exch.Gateway, deps Deps) *Volume {
	deps = deps.withDefaults()
	v := &Volume{
		botID: bot.ID,
		pair:  bot.Pair,
		gw:    gw,
		deps:  deps,
		rng:   rand.New(rand.NewSource(deps.Rng.Int63())),
	}
	// Стартовая пауза на случайный интервал: свежеподнятый флот не должен
	// стрелять залпом в первую же секунду.
	if bot.VolumeCfg != nil {
		v.nextDue = deps.Now().Add(uniformIn(v.rng, bot.VolumeCfg.MinInterval, bot.VolumeCfg.MaxInterval))
	}
	return v
}

func (v *Volume) Kind() models.StrategyKind { return models.StrategyVolume }

// Close: market orders leave nothing resting on the exchange.
func (v *Volume) Close(ctx context.Context) error { return nil }

func (v *Volume) RunCycle(ctx context.Context, bot models.Bot) error {
	cfg := bot.VolumeCfg
	if cfg == nil {
		return fmt.Errorf("bot %d: volume bot without volume config", bot.ID)
	}
	now := v.deps.Now()

	if err := rollDayIfNeeded(ctx, v.deps, &bot, now); err != nil {
		return err
	}
	if now.Before(v.nextDue) {
		return nil
	}

	remaining := cfg.DailyTarget - bot.Counters.VolumeToday
	if remaining <= 0 {
		// Дневная цель выполнена; до ролловера делать нечего.
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, v.deps.CallTimeout)
	defer cancel()

	tick, err := v.gw.FetchTicker(cctx, v.pair)
	if err != nil {
		return fmt.Errorf("fetch ticker %s: %w", v.pair, err)
	}
	if tick.Last <= 0 {
		return fmt.Errorf("fetch ticker %s: non-positive last price %v", v.pair, tick.Last)
	}
	bals, err := v.gw.FetchBalance(cctx)
	if err != nil {
		return fmt.Errorf("fetch balance: %w", err)
	}

	side := v.chooseSide(&bot, *cfg, tick.Last, bals)
	notional := v.drawNotional(*cfg, remaining)
	amount := notional / tick.Last

	if !sideFunded(&bot, side, amount, notional, bals) {
		// Нет средств на выбранной стороне: пропускаем и ждём полный
		// интервал, без горячего ретрая.
		v.nextDue = now.Add(cfg.MaxInterval)
		logger.Info("[VOLUME] bot=%d skip %s %s: insufficient balance, next try in %s",
			bot.ID, side, v.pair, cfg.MaxInterval)
		return nil
	}

	fill, err := v.gw.CreateMarketOrder(cctx, v.pair, side, amount)
	if err != nil {
		// nextDue остаётся в прошлом: ретрай на следующем тике раннера,
		// максимум одна попытка за тик.
		return fmt.Errorf("market %s %s: %w", side, v.pair, err)
	}

	rec := models.TradeRecord{
		BotID:      bot.ID,
		Side:       side,
		Amount:     fill.Amount,
		Price:      fill.Price,
		Notional:   fill.Notional,
		OrderID:    fill.OrderID,
		ExecutedAt: now,
	}
	if err := recordFill(ctx, v.deps, &bot, rec); err != nil {
		return err
	}

	wait := uniformIn(v.rng, cfg.MinInterval, cfg.MaxInterval)
	v.nextDue = now.Add(wait)
	logger.Info("[VOLUME] bot=%d %s %.8f %s @ %.8f notional=%.2f today=%.2f/%.2f next in %s",
		bot.ID, side, fill.Amount, v.pair, fill.Price, fill.Notional,
		bot.Counters.VolumeToday, cfg.DailyTarget, wait)
	return nil
}

// chooseSide flips a fair coin, except when the base asset's share of
// portfolio value has drifted past the imbalance threshold: then the
// corrective side is forced so the bot doesn't slowly trade itself into a
// one-sided book.
func (v *Volume) chooseSide(bot *models.Bot, cfg models.VolumeConfig, price float64, bals map[string]models.Balance) models.Side {
	baseVal := bals[bot.BaseAsset()].Total * price
	total := baseVal + bals[bot.QuoteAsset()].Total
	if total > 0 && cfg.ImbalanceThreshold > 0 {
		share := baseVal / total
		if share > 0.5+cfg.ImbalanceThreshold {
			return models.SideSell
		}
		if share < 0.5-cfg.ImbalanceThreshold {
			return models.SideBuy
		}
	}
	if v.rng.Float64() < 0.5 {
		return models.SideBuy
	}
	return models.SideSell
}

// drawNotional draws uniformly from [MinTrade, MaxTrade], trimmed to the
// remaining daily budget but never below the minimum lot. Worst case the day
// overshoots its target by less than one maximum trade.
func (v *Volume) drawNotional(cfg models.VolumeConfig, remaining float64) float64 {
	n := cfg.MinTrade + v.rng.Float64()*(cfg.MaxTrade-cfg.MinTrade)
	if n > remaining {
		n = math.Max(remaining, cfg.MinTrade)
	}
	return n
}
