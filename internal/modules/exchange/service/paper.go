package service

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"bot_fleet/internal/models"
)

// PaperConfig seeds the simulated venue. Zero values get sane defaults.
type PaperConfig struct {
	StartPrices  map[string]float64 // pair -> starting mid, default 100
	BaseBalance  float64            // seeded free amount per base asset
	QuoteBalance float64            // seeded free amount per quote asset
	SpreadBps    float64            // synthetic half-spread per side, default 10
	DriftBps     float64            // max mid move per market-data call, default 5
	Seed         int64              // rng seed, default 1
}

// Paper is a deterministic in-memory exchange. Market data follows a seeded
// random walk, market orders fill at the touch, limit orders rest with their
// funds reserved and fill when the walk crosses their price. It backs the
// default dev config and the strategy tests; real wire adapters register
// alongside it under their own exchange ids.
type Paper struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time

	spread float64 // fraction per side
	drift  float64 // max fraction per step

	mids       map[string]float64
	seededMids map[string]float64
	balances   map[string]models.Balance
	open       map[string]paperOrder
	trades     map[string][]models.PastTrade
	seq        int64

	baseSeed  float64
	quoteSeed float64
}

type paperOrder struct {
	id        string
	pair      string
	side      models.Side
	amount    float64
	price     float64
	createdAt time.Time
}

func NewPaper(cfg PaperConfig) *Paper {
	if cfg.SpreadBps <= 0 {
		cfg.SpreadBps = 10
	}
	if cfg.DriftBps <= 0 {
		cfg.DriftBps = 5
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	if cfg.BaseBalance <= 0 {
		cfg.BaseBalance = 10
	}
	if cfg.QuoteBalance <= 0 {
		cfg.QuoteBalance = 100_000
	}
	seeded := make(map[string]float64, len(cfg.StartPrices))
	for pair, px := range cfg.StartPrices {
		seeded[pair] = px
	}
	return &Paper{
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		now:        time.Now,
		spread:     cfg.SpreadBps / 10_000,
		drift:      cfg.DriftBps / 10_000,
		mids:       make(map[string]float64),
		seededMids: seeded,
		balances:   make(map[string]models.Balance),
		open:       make(map[string]paperOrder),
		trades:     make(map[string][]models.PastTrade),
		baseSeed:   cfg.BaseBalance,
		quoteSeed:  cfg.QuoteBalance,
	}
}

// WithNow overrides the clock, for tests.
func (p *Paper) WithNow(now func() time.Time) *Paper {
	if now != nil {
		p.now = now
	}
	return p
}

func (p *Paper) FetchBalance(ctx context.Context) (map[string]models.Balance, error) {
	if err := ctx.Err(); err != nil {
		return nil, &NetworkError{Op: "paper FetchBalance", Cause: err}
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]models.Balance, len(p.balances))
	for asset, b := range p.balances {
		out[asset] = b
	}
	return out, nil
}

func (p *Paper) FetchOrderBook(ctx context.Context, pair string, depth int) (models.OrderBook, error) {
	if err := ctx.Err(); err != nil {
		return models.OrderBook{}, &NetworkError{Op: "paper FetchOrderBook", Cause: err}
	}
	if depth <= 0 {
		depth = 5
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	base, quote := splitPair(pair)
	p.ensureAssets(base, quote)

	mid := p.stepMid(pair)
	book := models.OrderBook{
		Bids: make([]models.BookLevel, 0, depth),
		Asks: make([]models.BookLevel, 0, depth),
	}
	for i := 0; i < depth; i++ {
		off := p.spread * float64(i+1)
		book.Bids = append(book.Bids, models.BookLevel{
			Price:  mid * (1 - off),
			Amount: 1 + float64(i),
		})
		book.Asks = append(book.Asks, models.BookLevel{
			Price:  mid * (1 + off),
			Amount: 1 + float64(i),
		})
	}
	return book, nil
}

func (p *Paper) FetchTicker(ctx context.Context, pair string) (models.Ticker, error) {
	if err := ctx.Err(); err != nil {
		return models.Ticker{}, &NetworkError{Op: "paper FetchTicker", Cause: err}
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	base, quote := splitPair(pair)
	p.ensureAssets(base, quote)

	return models.Ticker{Last: p.stepMid(pair)}, nil
}

func (p *Paper) CreateMarketOrder(ctx context.Context, pair string, side models.Side, amount float64) (models.FillResult, error) {
	if err := ctx.Err(); err != nil {
		return models.FillResult{}, &NetworkError{Op: "paper CreateMarketOrder", Cause: err}
	}
	if amount <= 0 {
		return models.FillResult{}, &RejectionError{Code: RejectBadPrecision, Msg: "amount must be positive"}
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	base, quote := splitPair(pair)
	p.ensureAssets(base, quote)

	mid := p.midFor(pair)
	var price float64
	if side == models.SideBuy {
		price = mid * (1 + p.spread) // lift the ask
	} else {
		price = mid * (1 - p.spread) // hit the bid
	}
	notional := amount * price

	switch side {
	case models.SideBuy:
		if p.balances[quote].Free < notional {
			return models.FillResult{}, &RejectionError{
				Code: RejectInsufficientFunds,
				Msg:  fmt.Sprintf("need %.8f %s free, have %.8f", notional, quote, p.balances[quote].Free),
			}
		}
		p.addFree(quote, -notional)
		p.addFree(base, amount)
	case models.SideSell:
		if p.balances[base].Free < amount {
			return models.FillResult{}, &RejectionError{
				Code: RejectInsufficientFunds,
				Msg:  fmt.Sprintf("need %.8f %s free, have %.8f", amount, base, p.balances[base].Free),
			}
		}
		p.addFree(base, -amount)
		p.addFree(quote, notional)
	default:
		return models.FillResult{}, &RejectionError{Code: RejectBadPrecision, Msg: fmt.Sprintf("unknown side %q", side)}
	}

	id := p.nextID()
	p.recordFill(pair, id, side, amount, price)

	return models.FillResult{
		OrderID:  id,
		Amount:   amount,
		Price:    price,
		Notional: notional,
	}, nil
}

func (p *Paper) CreateLimitOrder(ctx context.Context, pair string, side models.Side, amount, price float64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", &NetworkError{Op: "paper CreateLimitOrder", Cause: err}
	}
	if amount <= 0 || price <= 0 {
		return "", &RejectionError{Code: RejectBadPrecision, Msg: "amount and price must be positive"}
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	base, quote := splitPair(pair)
	p.ensureAssets(base, quote)

	// Reserve the funds the resting order would consume.
	switch side {
	case models.SideBuy:
		need := amount * price
		if p.balances[quote].Free < need {
			return "", &RejectionError{
				Code: RejectInsufficientFunds,
				Msg:  fmt.Sprintf("need %.8f %s free, have %.8f", need, quote, p.balances[quote].Free),
			}
		}
		p.reserve(quote, need)
	case models.SideSell:
		if p.balances[base].Free < amount {
			return "", &RejectionError{
				Code: RejectInsufficientFunds,
				Msg:  fmt.Sprintf("need %.8f %s free, have %.8f", amount, base, p.balances[base].Free),
			}
		}
		p.reserve(base, amount)
	default:
		return "", &RejectionError{Code: RejectBadPrecision, Msg: fmt.Sprintf("unknown side %q", side)}
	}

	id := p.nextID()
	p.open[id] = paperOrder{
		id:        id,
		pair:      pair,
		side:      side,
		amount:    amount,
		price:     price,
		createdAt: p.now(),
	}
	return id, nil
}

func (p *Paper) CancelOrder(ctx context.Context, pair, orderID string) error {
	if err := ctx.Err(); err != nil {
		return &NetworkError{Op: "paper CancelOrder", Cause: err}
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	o, ok := p.open[orderID]
	if !ok || o.pair != pair {
		return &RejectionError{Code: RejectUnknownOrder, Msg: fmt.Sprintf("order %s not open", orderID)}
	}

	base, quote := splitPair(pair)
	if o.side == models.SideBuy {
		p.release(quote, o.amount*o.price)
	} else {
		p.release(base, o.amount)
	}
	delete(p.open, orderID)
	return nil
}

func (p *Paper) FetchOpenOrders(ctx context.Context, pair string) ([]models.OpenOrder, error) {
	if err := ctx.Err(); err != nil {
		return nil, &NetworkError{Op: "paper FetchOpenOrders", Cause: err}
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.OpenOrder, 0, len(p.open))
	for _, o := range p.open {
		if o.pair != pair {
			continue
		}
		out = append(out, models.OpenOrder{
			ID:        o.id,
			Side:      o.side,
			Price:     o.price,
			Amount:    o.amount,
			CreatedAt: o.createdAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (p *Paper) FetchMyTrades(ctx context.Context, pair string, since time.Time) ([]models.PastTrade, error) {
	if err := ctx.Err(); err != nil {
		return nil, &NetworkError{Op: "paper FetchMyTrades", Cause: err}
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []models.PastTrade
	for _, t := range p.trades[pair] {
		if t.At.After(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

// --- internals; all called with p.mu held ---

// stepMid advances the random walk one step and settles any resting orders
// the new mid crossed.
func (p *Paper) stepMid(pair string) float64 {
	mid := p.midFor(pair)
	move := (p.rng.Float64()*2 - 1) * p.drift
	mid *= 1 + move
	if mid <= 0 {
		mid = p.seedPrice(pair)
	}
	p.mids[pair] = mid
	p.settleCrossed(pair, mid)
	return mid
}

func (p *Paper) midFor(pair string) float64 {
	if mid, ok := p.mids[pair]; ok {
		return mid
	}
	mid := p.seedPrice(pair)
	p.mids[pair] = mid
	return mid
}

func (p *Paper) seedPrice(pair string) float64 {
	if px, ok := p.seededMids[pair]; ok && px > 0 {
		return px
	}
	return 100
}

// settleCrossed fills resting orders the walk has crossed: a buy fills once
// the mid is at or below its price, a sell once the mid is at or above.
// Maker fills execute at the order's own price.
func (p *Paper) settleCrossed(pair string, mid float64) {
	var crossed []paperOrder
	for _, o := range p.open {
		if o.pair != pair {
			continue
		}
		if (o.side == models.SideBuy && mid <= o.price) ||
			(o.side == models.SideSell && mid >= o.price) {
			crossed = append(crossed, o)
		}
	}
	sort.Slice(crossed, func(i, j int) bool { return crossed[i].id < crossed[j].id })

	base, quote := splitPair(pair)
	for _, o := range crossed {
		notional := o.amount * o.price
		if o.side == models.SideBuy {
			p.consumeReserved(quote, notional)
			p.addFree(base, o.amount)
		} else {
			p.consumeReserved(base, o.amount)
			p.addFree(quote, notional)
		}
		p.recordFill(pair, o.id, o.side, o.amount, o.price)
		delete(p.open, o.id)
	}
}

func (p *Paper) recordFill(pair, orderID string, side models.Side, amount, price float64) {
	p.trades[pair] = append(p.trades[pair], models.PastTrade{
		ID:      p.nextID(),
		OrderID: orderID,
		Side:    side,
		Amount:  amount,
		Price:   price,
		At:      p.now(),
	})
}

func (p *Paper) ensureAssets(base, quote string) {
	if _, ok := p.balances[base]; !ok {
		p.balances[base] = models.Balance{Free: p.baseSeed, Total: p.baseSeed}
	}
	if _, ok := p.balances[quote]; !ok {
		p.balances[quote] = models.Balance{Free: p.quoteSeed, Total: p.quoteSeed}
	}
}

func (p *Paper) addFree(asset string, delta float64) {
	b := p.balances[asset]
	b.Free += delta
	b.Total = b.Free + b.Used
	p.balances[asset] = b
}

func (p *Paper) reserve(asset string, amount float64) {
	b := p.balances[asset]
	b.Free -= amount
	b.Used += amount
	b.Total = b.Free + b.Used
	p.balances[asset] = b
}

func (p *Paper) release(asset string, amount float64) {
	b := p.balances[asset]
	b.Used -= amount
	b.Free += amount
	b.Total = b.Free + b.Used
	p.balances[asset] = b
}

func (p *Paper) consumeReserved(asset string, amount float64) {
	b := p.balances[asset]
	b.Used -= amount
	b.Total = b.Free + b.Used
	p.balances[asset] = b
}

func (p *Paper) nextID() string {
	p.seq++
	return fmt.Sprintf("paper-%d", p.seq)
}

func splitPair(pair string) (base, quote string) {
	base, quote, _ = strings.Cut(pair, "/")
	return base, quote
}
