package service

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"bot_fleet/internal/metrics"
	"bot_fleet/internal/models"
	botstore "bot_fleet/internal/modules/botstore/service"
	"bot_fleet/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// capturePublisher records published trades instead of hitting a broker.
type capturePublisher struct {
	trades []models.TradeRecord
	err    error
}

func (p *capturePublisher) PublishTrade(_ context.Context, rec models.TradeRecord) error {
	if p.err != nil {
		return p.err
	}
	p.trades = append(p.trades, rec)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func testDeps(store botstore.Store, clock *testClock, pub *capturePublisher) Deps {
	return Deps{
		Store:       store,
		Events:      pub,
		Metrics:     metrics.New(prometheus.NewRegistry()),
		CallTimeout: 5 * time.Second,
		Now:         clock.Now,
		Rng:         rand.New(rand.NewSource(7)),
	}
}

func mustCreate(t *testing.T, store botstore.Store, bot *models.Bot) {
	t.Helper()
	if err := store.Create(context.Background(), bot); err != nil {
		t.Fatalf("create bot: %v", err)
	}
}

type limitCall struct {
	side   models.Side
	amount float64
	price  float64
}

type marketCall struct {
	side   models.Side
	amount float64
}

// fakeGateway is a scriptable exchange: fixed market data, recorded order
// calls, optional injected failures.
type fakeGateway struct {
	balances  map[string]models.Balance
	book      models.OrderBook
	bookErr   error
	ticker    models.Ticker
	tickerErr error
	open      []models.OpenOrder
	openErr   error
	fills     []models.PastTrade
	fillsErr  error

	marketErr error
	limitErr  error
	cancelErr error

	marketCalls []marketCall
	limitCalls  []limitCall
	cancelled   []string
	bookFetches int
	tradeScans  []time.Time

	seq int
}

func (g *fakeGateway) FetchBalance(context.Context) (map[string]models.Balance, error) {
	if g.balances == nil {
		return map[string]models.Balance{}, nil
	}
	return g.balances, nil
}

func (g *fakeGateway) FetchOrderBook(context.Context, string, int) (models.OrderBook, error) {
	g.bookFetches++
	return g.book, g.bookErr
}

func (g *fakeGateway) FetchTicker(context.Context, string) (models.Ticker, error) {
	return g.ticker, g.tickerErr
}

func (g *fakeGateway) CreateMarketOrder(_ context.Context, _ string, side models.Side, amount float64) (models.FillResult, error) {
	g.marketCalls = append(g.marketCalls, marketCall{side: side, amount: amount})
	if g.marketErr != nil {
		return models.FillResult{}, g.marketErr
	}
	g.seq++
	return models.FillResult{
		OrderID:  fmt.Sprintf("fake-%d", g.seq),
		Amount:   amount,
		Price:    g.ticker.Last,
		Notional: amount * g.ticker.Last,
	}, nil
}

func (g *fakeGateway) CreateLimitOrder(_ context.Context, _ string, side models.Side, amount, price float64) (string, error) {
	g.limitCalls = append(g.limitCalls, limitCall{side: side, amount: amount, price: price})
	if g.limitErr != nil {
		return "", g.limitErr
	}
	g.seq++
	return fmt.Sprintf("fake-%d", g.seq), nil
}

func (g *fakeGateway) CancelOrder(_ context.Context, _, orderID string) error {
	g.cancelled = append(g.cancelled, orderID)
	return g.cancelErr
}

func (g *fakeGateway) FetchOpenOrders(context.Context, string) ([]models.OpenOrder, error) {
	return g.open, g.openErr
}

func (g *fakeGateway) FetchMyTrades(_ context.Context, _ string, since time.Time) ([]models.PastTrade, error) {
	g.tradeScans = append(g.tradeScans, since)
	if g.fillsErr != nil {
		return nil, g.fillsErr
	}
	var out []models.PastTrade
	for _, f := range g.fills {
		if f.At.After(since) {
			out = append(out, f)
		}
	}
	return out, nil
}
