package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"bot_fleet/internal/helper"
	"bot_fleet/internal/models"
	exch "bot_fleet/internal/modules/exchange/service"
	"bot_fleet/pkg/logger"
)

// Spread keeps one bid and one ask resting around the live mid price,
// re-quoting when a side drifts past the staleness tolerance or outlives
// its max age. Sizes lean toward whichever side pulls inventory back to
// its target share.
type Spread struct {
	botID int64
	pair  string
	gw    exch.Gateway
	deps  Deps

	lastRefresh time.Time
	lastScan    time.Time // high-water mark for the fill sweep
}

func NewSpread(bot models.Bot, gw exch.Gateway, deps Deps) *Spread {
	deps = deps.withDefaults()
	return &Spread{
		botID: bot.ID,
		pair:  bot.Pair,
		gw:    gw,
		deps:  deps,
		// Филлы до рождения экзекьютора боту не приписываем.
		lastScan: deps.Now(),
	}
}

func (s *Spread) Kind() models.StrategyKind { return models.StrategySpread }

func (s *Spread) RunCycle(ctx context.Context, bot models.Bot) error {
	cfg := bot.SpreadCfg
	if cfg == nil {
		return fmt.Errorf("bot %d: spread bot without spread config", bot.ID)
	}
	now := s.deps.Now()

	if err := rollDayIfNeeded(ctx, s.deps, &bot, now); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, s.deps.CallTimeout)
	defer cancel()

	// Квоты исполняются между циклами; сначала загребаем fills в журнал,
	// потом уже решаем, что перевыставлять.
	if err := s.collectFills(cctx, &bot); err != nil {
		return err
	}

	// Rate bound даже при уехавших ценах: лимиты биржи важнее свежести.
	if cfg.MinRefreshInterval > 0 && now.Sub(s.lastRefresh) < cfg.MinRefreshInterval {
		return nil
	}

	book, err := s.gw.FetchOrderBook(cctx, s.pair, 1)
	if err != nil {
		return fmt.Errorf("fetch book %s: %w", s.pair, err)
	}
	mid, ok := book.Mid()
	if !ok {
		// Пустой стакан — временная дыра в данных, не ошибка.
		logger.Info("[SPREAD] bot=%d empty book on %s, skip cycle", bot.ID, s.pair)
		return nil
	}
	s.lastRefresh = now

	tickSz := helper.TickFromPrecision(cfg.PricePrecision)
	bid := helper.RoundDownToTick(mid*(1-cfg.HalfSpread), tickSz)
	ask := helper.RoundUpToTick(mid*(1+cfg.HalfSpread), tickSz)
	if bid <= 0 || ask <= bid {
		return fmt.Errorf("degenerate quotes on %s: bid=%.8f ask=%.8f mid=%.8f", s.pair, bid, ask, mid)
	}

	open, err := s.gw.FetchOpenOrders(cctx, s.pair)
	if err != nil {
		return fmt.Errorf("fetch open orders %s: %w", s.pair, err)
	}

	keepBid, errBid := s.reconcileSide(cctx, *cfg, models.SideBuy, bid, open, now)
	keepAsk, errAsk := s.reconcileSide(cctx, *cfg, models.SideSell, ask, open, now)

	// Баланс читаем после отмен: резервы убитых квот уже свободны.
	bals, err := s.gw.FetchBalance(cctx)
	if err != nil {
		return errors.Join(errBid, errAsk, fmt.Errorf("fetch balance: %w", err))
	}

	var placeBid, placeAsk error
	if errBid == nil && !keepBid {
		placeBid = s.placeSide(cctx, &bot, *cfg, models.SideBuy, bid, bals)
	}
	if errAsk == nil && !keepAsk {
		placeAsk = s.placeSide(cctx, &bot, *cfg, models.SideSell, ask, bals)
	}
	return errors.Join(errBid, errAsk, placeBid, placeAsk)
}

// Close cancels every resting quote so a stopped bot leaves a clean book.
func (s *Spread) Close(ctx context.Context) error {
	open, err := s.gw.FetchOpenOrders(ctx, s.pair)
	if err != nil {
		return fmt.Errorf("fetch open orders %s: %w", s.pair, err)
	}
	var errs []error
	for _, o := range open {
		if err := s.gw.CancelOrder(ctx, s.pair, o.ID); err != nil && !exch.IsRejection(err) {
			errs = append(errs, fmt.Errorf("cancel %s: %w", o.ID, err))
		}
	}
	return errors.Join(errs...)
}

// collectFills sweeps maker fills reported since the last sweep into the
// trade ledger. A fill the store refused stays before the high-water mark
// and is retried next sweep.
func (s *Spread) collectFills(ctx context.Context, bot *models.Bot) error {
	fills, err := s.gw.FetchMyTrades(ctx, s.pair, s.lastScan)
	if err != nil {
		return fmt.Errorf("fetch my trades %s: %w", s.pair, err)
	}
	for _, t := range fills {
		rec := models.TradeRecord{
			BotID:      bot.ID,
			Side:       t.Side,
			Amount:     t.Amount,
			Price:      t.Price,
			Notional:   t.Notional(),
			OrderID:    t.OrderID,
			ExecutedAt: t.At,
		}
		if err := recordFill(ctx, s.deps, bot, rec); err != nil {
			return err
		}
		if t.At.After(s.lastScan) {
			s.lastScan = t.At
		}
		logger.Info("[SPREAD] bot=%d filled %s %.8f %s @ %.8f", bot.ID, t.Side, t.Amount, s.pair, t.Price)
	}
	return nil
}

// reconcileSide cancels same-side quotes that drifted past the staleness
// tolerance, outlived the max age, or duplicate an already-good quote.
// It reports whether a good quote is still resting.
func (s *Spread) reconcileSide(ctx context.Context, cfg models.SpreadConfig, side models.Side, target float64, open []models.OpenOrder, now time.Time) (bool, error) {
	kept := false
	for _, o := range open {
		if o.Side != side {
			continue
		}
		drift := math.Abs(o.Price-target) / target
		aged := cfg.MaxQuoteAge > 0 && now.Sub(o.CreatedAt) > cfg.MaxQuoteAge
		if !kept && drift <= cfg.StaleTolerance && !aged {
			kept = true
			continue
		}
		if err := s.gw.CancelOrder(ctx, s.pair, o.ID); err != nil {
			if exch.IsRejection(err) {
				// Уже исполнилась или снята; fill подберёт следующий sweep.
				continue
			}
			return kept, fmt.Errorf("cancel %s %s: %w", side, o.ID, err)
		}
		logger.Info("[SPREAD] bot=%d cancel %s %s: drift=%.5f aged=%v", s.botID, side, o.ID, drift, aged)
	}
	return kept, nil
}

// placeSide prices one quote and rests it. Insufficient funds skips only
// this side; the opposite quote still works the book.
func (s *Spread) placeSide(ctx context.Context, bot *models.Bot, cfg models.SpreadConfig, side models.Side, price float64, bals map[string]models.Balance) error {
	amount := helper.RoundToPrecision(s.quoteSize(bot, cfg, side, price, bals), cfg.AmountPrecision)
	if amount <= 0 {
		return nil
	}
	if !sideFunded(bot, side, amount, amount*price, bals) {
		logger.Info("[SPREAD] bot=%d skip %s: insufficient balance for %.8f %s @ %.8f",
			bot.ID, side, amount, s.pair, price)
		return nil
	}
	id, err := s.gw.CreateLimitOrder(ctx, s.pair, side, amount, price)
	if err != nil {
		if exch.RejectionCode(err) == exch.RejectInsufficientFunds {
			logger.Info("[SPREAD] bot=%d %s quote rejected: %v", bot.ID, side, err)
			return nil
		}
		return fmt.Errorf("quote %s %s: %w", side, s.pair, err)
	}
	logger.Info("[SPREAD] bot=%d quote %s %s %.8f @ %.8f", bot.ID, side, id, amount, price)
	return nil
}

// quoteSize converts the configured notional into base quantity, leaned to
// pull inventory back toward its target share: bigger on the corrective
// side, smaller on the worsening one.
func (s *Spread) quoteSize(bot *models.Bot, cfg models.SpreadConfig, side models.Side, price float64, bals map[string]models.Balance) float64 {
	if price <= 0 {
		return 0
	}
	notional := cfg.OrderNotional
	if cfg.InventorySkew > 0 {
		target := cfg.InventoryTargetRatio
		if target <= 0 {
			target = 0.5
		}
		baseVal := bals[bot.BaseAsset()].Total * price
		total := baseVal + bals[bot.QuoteAsset()].Total
		if total > 0 {
			lean := (baseVal/total - target) * 2 // ~[-1..1] вокруг цели
			f := 1 - cfg.InventorySkew*lean
			if side == models.SideSell {
				f = 1 + cfg.InventorySkew*lean
			}
			notional *= helper.Clamp(f, 0, 2)
		}
	}
	return notional / price
}
