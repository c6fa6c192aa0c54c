package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"bot_fleet/internal/helper"
	"bot_fleet/internal/metrics"
	"bot_fleet/internal/models"
	botstore "bot_fleet/internal/modules/botstore/service"
	events "bot_fleet/internal/modules/events/service"
	"bot_fleet/pkg/logger"
)

// Executor drives one bot. The runner owns scheduling, mutual exclusion and
// eviction; executors own pacing inside the cycle, so calling RunCycle more
// often than the strategy needs must be cheap.
type Executor interface {
	// RunCycle advances the bot one step using the freshest row the runner
	// listed this tick.
	RunCycle(ctx context.Context, bot models.Bot) error
	Kind() models.StrategyKind
	// Close releases exchange-side leftovers, e.g. resting quotes.
	Close(ctx context.Context) error
}

// Deps is everything an executor needs besides the bot row and the gateway.
type Deps struct {
	Store   botstore.Store
	Events  events.Publisher
	Metrics *metrics.Metrics

	CallTimeout time.Duration // budget per exchange round-trip
	Now         func() time.Time
	Rng         *rand.Rand // seeds per-executor generators
}

func (d Deps) withDefaults() Deps {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Rng == nil {
		d.Rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if d.CallTimeout <= 0 {
		d.CallTimeout = 10 * time.Second
	}
	return d
}

// rollDayIfNeeded resets the daily tallies once the UTC day flips. The reset
// is persisted immediately so dashboards drop to zero without waiting for
// the first trade of the new day.
func rollDayIfNeeded(ctx context.Context, d Deps, bot *models.Bot, now time.Time) error {
	if helper.SameUTCDay(bot.Counters.DayStart, now) {
		return nil
	}
	bot.Counters.VolumeToday = 0
	bot.Counters.TradesToday = 0
	bot.Counters.DayStart = helper.DayStartUTC(now)
	if err := d.Store.UpdateCounters(ctx, bot.ID, bot.Counters); err != nil {
		return fmt.Errorf("reset day counters: %w", err)
	}
	logger.Info("[STRATEGY] bot=%d UTC day rollover, counters reset", bot.ID)
	return nil
}

// recordFill persists the fill with its updated tallies and emits the trade
// event. Event publication is best-effort: the fill already happened on the
// exchange and must not be lost over a broker hiccup.
func recordFill(ctx context.Context, d Deps, bot *models.Bot, rec models.TradeRecord) error {
	c := bot.Counters
	c.VolumeToday += rec.Notional
	c.TradesToday++
	at := rec.ExecutedAt
	c.LastTradeAt = &at
	c.LastError = ""

	if err := d.Store.RecordTrade(ctx, rec, c); err != nil {
		return fmt.Errorf("record trade: %w", err)
	}
	bot.Counters = c

	if d.Events != nil {
		if err := d.Events.PublishTrade(ctx, rec); err != nil {
			logger.Error("[STRATEGY] bot=%d publish trade: %v", rec.BotID, err)
		}
	}
	if d.Metrics != nil {
		d.Metrics.TradesTotal.WithLabelValues(string(rec.Side)).Inc()
	}
	return nil
}

// uniformIn draws a duration uniformly from [lo, hi].
func uniformIn(rng *rand.Rand, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rng.Int63n(int64(hi-lo)+1))
}

// sideFunded reports whether the free balance covers the order: quote for a
// buy, base for a sell.
func sideFunded(bot *models.Bot, side models.Side, amount, notional float64, bals map[string]models.Balance) bool {
	if side == models.SideBuy {
		return bals[bot.QuoteAsset()].Free >= notional
	}
	return bals[bot.BaseAsset()].Free >= amount
}
