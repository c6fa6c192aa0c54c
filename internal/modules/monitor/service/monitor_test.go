package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"bot_fleet/internal/helper"
	"bot_fleet/internal/metrics"
	"bot_fleet/internal/models"
	botstore "bot_fleet/internal/modules/botstore/service"
	hbsvc "bot_fleet/internal/modules/heartbeat/service"
	opssvc "bot_fleet/internal/modules/opsapi/service"
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

type captureNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *captureNotifier) Send(msg string) {
	n.mu.Lock()
	n.msgs = append(n.msgs, msg)
	n.mu.Unlock()
}

func (n *captureNotifier) Sendf(format string, args ...any) { n.Send(fmt.Sprintf(format, args...)) }

func (n *captureNotifier) Messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

type captureBroadcaster struct {
	mu      sync.Mutex
	entries []models.HealthLogEntry
}

func (b *captureBroadcaster) BroadcastHealth(e models.HealthLogEntry) {
	b.mu.Lock()
	b.entries = append(b.entries, e)
	b.mu.Unlock()
}

func (b *captureBroadcaster) Entries() []models.HealthLogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.HealthLogEntry(nil), b.entries...)
}

// flakyStore injects failures into specific registry calls.
type flakyStore struct {
	botstore.Store
	tradesErr error
	listErr   error
}

func (s *flakyStore) TradesSince(ctx context.Context, botID int64, since time.Time) ([]models.TradeRecord, error) {
	if s.tradesErr != nil {
		return nil, s.tradesErr
	}
	return s.Store.TradesSince(ctx, botID, since)
}

func (s *flakyStore) ListByStatus(ctx context.Context, st models.ReportedStatus) ([]models.Bot, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.Store.ListByStatus(ctx, st)
}

type failingBeats struct{ err error }

func (b failingBeats) Record(context.Context, models.Heartbeat) error { return b.err }
func (b failingBeats) Latest(context.Context, int64) (*models.Heartbeat, error) {
	return nil, b.err
}

func newTestMonitor(store botstore.Store, beats hbsvc.Store, clock *testClock) (*Monitor, *captureNotifier, *captureBroadcaster) {
	n := &captureNotifier{}
	b := &captureBroadcaster{}
	m := NewMonitor(Config{
		Tick:        time.Minute,
		CallTimeout: time.Second,
		Defaults:    models.HealthConfig{FreshWithin: 30 * time.Minute, StaleWithin: 2 * time.Hour},
	}, store, beats, n, b, metrics.New(prometheus.NewRegistry()), opssvc.NewState()).WithNow(clock.Now)
	return m, n, b
}

func seedRunningBot(t *testing.T, store botstore.Store, id int64, cfg models.HealthConfig) models.Bot {
	t.Helper()
	bot := models.Bot{
		ID:        id,
		TenantID:  1,
		Exchange:  "paper",
		Pair:      "BTC/USDT",
		Strategy:  models.StrategyVolume,
		Status:    models.StatusRunning,
		HealthCfg: cfg,
	}
	if err := store.Create(context.Background(), &bot); err != nil {
		t.Fatalf("create bot: %v", err)
	}
	return bot
}

func recordTradeAt(t *testing.T, store botstore.Store, botID int64, at time.Time) {
	t.Helper()
	rec := models.TradeRecord{
		BotID: botID, Side: models.SideBuy,
		Amount: 0.01, Price: 65_000, Notional: 650,
		OrderID: "t-1", ExecutedAt: at,
	}
	c := models.Counters{
		VolumeToday: 650, TradesToday: 1,
		DayStart: helper.DayStartUTC(at), LastTradeAt: &at,
	}
	if err := store.RecordTrade(context.Background(), rec, c); err != nil {
		t.Fatalf("record trade: %v", err)
	}
}

func healthOf(t *testing.T, store botstore.Store, botID int64) models.HealthStatus {
	t.Helper()
	st, err := store.HealthFor(context.Background(), botID)
	if err != nil {
		t.Fatalf("health for %d: %v", botID, err)
	}
	return st
}

func TestEvaluateClassifiesFromTradeLedger(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
	store := botstore.NewMemory()
	beats := hbsvc.NewMemory(4 * time.Hour).WithNow(clock.Now)

	seedRunningBot(t, store, 1, models.HealthConfig{})
	seedRunningBot(t, store, 2, models.HealthConfig{})
	seedRunningBot(t, store, 3, models.HealthConfig{})
	recordTradeAt(t, store, 1, clock.now.Add(-10*time.Minute))
	recordTradeAt(t, store, 2, clock.now.Add(-45*time.Minute))
	recordTradeAt(t, store, 3, clock.now.Add(-3*time.Hour))

	m, n, b := newTestMonitor(store, beats, clock)
	m.EvaluateAll(context.Background())

	for botID, want := range map[int64]models.HealthState{
		1: models.HealthHealthy,
		2: models.HealthStale,
		3: models.HealthStopped,
	} {
		if got := healthOf(t, store, botID).State; got != want {
			t.Errorf("bot %d: state = %s, want %s", botID, got, want)
		}
	}

	// The healthy bot's verdict must carry its evidence timestamp.
	st := healthOf(t, store, 1)
	if st.LastActivityAt == nil || !st.LastActivityAt.Equal(clock.now.Add(-10*time.Minute)) {
		t.Fatalf("last activity = %v, want the trade time", st.LastActivityAt)
	}

	// Only the stopped bot pages the operator channel.
	msgs := n.Messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "bot 3") {
		t.Fatalf("alerts = %q, want exactly one about bot 3", msgs)
	}
	// Every first verdict is a transition out of unknown.
	if got := len(b.Entries()); got != 3 {
		t.Fatalf("broadcast %d transitions, want 3", got)
	}
}

func TestTradeQueryFailureIsErrorNeverStopped(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
	mem := botstore.NewMemory()
	store := &flakyStore{Store: mem, tradesErr: errors.New("connection refused")}
	beats := hbsvc.NewMemory(4 * time.Hour).WithNow(clock.Now)

	seedRunningBot(t, mem, 1, models.HealthConfig{})

	m, n, _ := newTestMonitor(store, beats, clock)
	m.EvaluateAll(context.Background())

	st := healthOf(t, mem, 1)
	if st.State != models.HealthError {
		t.Fatalf("state = %s, want %s", st.State, models.HealthError)
	}
	if !strings.Contains(st.Reason, "evidence query failed") {
		t.Fatalf("reason = %q", st.Reason)
	}
	if len(n.Messages()) != 1 {
		t.Fatalf("error transition must alert; got %d alerts", len(n.Messages()))
	}

	// Ledger recovers: the verdict follows the evidence again.
	store.tradesErr = nil
	recordTradeAt(t, mem, 1, clock.now.Add(-time.Minute))
	m.EvaluateAll(context.Background())
	if got := healthOf(t, mem, 1).State; got != models.HealthHealthy {
		t.Fatalf("state after recovery = %s, want healthy", got)
	}
}

func TestHeartbeatCountsAsActivity(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
	store := botstore.NewMemory()
	beats := hbsvc.NewMemory(6 * time.Hour).WithNow(clock.Now)

	seedRunningBot(t, store, 1, models.HealthConfig{})
	// No trades at all; an external process pushes heartbeats instead.
	if err := beats.Record(context.Background(), models.Heartbeat{
		BotID: 1, Status: "alive", At: clock.now.Add(-5 * time.Minute),
	}); err != nil {
		t.Fatalf("record heartbeat: %v", err)
	}

	m, _, _ := newTestMonitor(store, beats, clock)
	m.EvaluateAll(context.Background())
	if got := healthOf(t, store, 1).State; got != models.HealthHealthy {
		t.Fatalf("state = %s, want healthy on heartbeat evidence", got)
	}

	// The heartbeat ages like any other evidence.
	clock.Advance(3 * time.Hour)
	m.EvaluateAll(context.Background())
	if got := healthOf(t, store, 1).State; got != models.HealthStopped {
		t.Fatalf("state = %s, want stopped once the heartbeat is old", got)
	}
}

func TestNewestEvidenceWins(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
	store := botstore.NewMemory()
	beats := hbsvc.NewMemory(4 * time.Hour).WithNow(clock.Now)

	seedRunningBot(t, store, 1, models.HealthConfig{})
	recordTradeAt(t, store, 1, clock.now.Add(-50*time.Minute))
	hbAt := clock.now.Add(-10 * time.Minute)
	if err := beats.Record(context.Background(), models.Heartbeat{BotID: 1, Status: "alive", At: hbAt}); err != nil {
		t.Fatalf("record heartbeat: %v", err)
	}

	m, _, _ := newTestMonitor(store, beats, clock)
	m.EvaluateAll(context.Background())

	st := healthOf(t, store, 1)
	if st.State != models.HealthHealthy {
		t.Fatalf("state = %s, want healthy (heartbeat is newer than the trade)", st.State)
	}
	if st.LastActivityAt == nil || !st.LastActivityAt.Equal(hbAt) {
		t.Fatalf("last activity = %v, want the heartbeat time %v", st.LastActivityAt, hbAt)
	}
}

func TestHeartbeatLookupFailureFallsBackToTrades(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
	store := botstore.NewMemory()

	seedRunningBot(t, store, 1, models.HealthConfig{})
	seedRunningBot(t, store, 2, models.HealthConfig{})
	recordTradeAt(t, store, 1, clock.now.Add(-10*time.Minute))
	// Bot 2 has no ledger evidence, so the broken heartbeat store matters.

	m, _, _ := newTestMonitor(store, failingBeats{err: errors.New("redis down")}, clock)
	m.EvaluateAll(context.Background())

	if got := healthOf(t, store, 1).State; got != models.HealthHealthy {
		t.Fatalf("bot 1 = %s, want healthy from trades alone", got)
	}
	if got := healthOf(t, store, 2).State; got != models.HealthError {
		t.Fatalf("bot 2 = %s, want error without any usable evidence", got)
	}
}

func TestTransitionsAppendOnlyOnChange(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
	store := botstore.NewMemory()
	beats := hbsvc.NewMemory(time.Hour).WithNow(clock.Now)

	seedRunningBot(t, store, 1, models.HealthConfig{})
	recordTradeAt(t, store, 1, clock.now.Add(-10*time.Minute))

	m, n, _ := newTestMonitor(store, beats, clock)

	// healthy, twice: exactly one transition row (unknown -> healthy).
	m.EvaluateAll(context.Background())
	m.EvaluateAll(context.Background())
	log, err := store.HealthLog(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("health log: %v", err)
	}
	if len(log) != 1 {
		t.Fatalf("log rows after two identical verdicts = %d, want 1", len(log))
	}

	// Evidence ages: healthy -> stale -> stopped, one row each.
	clock.Advance(40 * time.Minute) // trade now 50m old
	m.EvaluateAll(context.Background())
	clock.Advance(2 * time.Hour) // far past the outer window
	m.EvaluateAll(context.Background())

	log, err = store.HealthLog(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("health log: %v", err)
	}
	if len(log) != 3 {
		t.Fatalf("log rows = %d, want 3", len(log))
	}

	// HealthLog returns newest first; replayed oldest-to-newest the chain
	// must be gap-free and end at the current state.
	replay := []models.HealthLogEntry{log[2], log[1], log[0]}
	if replay[0].From != models.HealthUnknown {
		t.Fatalf("first transition starts at %s, want unknown", replay[0].From)
	}
	for i := 1; i < len(replay); i++ {
		if replay[i].From != replay[i-1].To {
			t.Fatalf("transition chain broken at %d: %s -> %s after %s",
				i, replay[i].From, replay[i].To, replay[i-1].To)
		}
	}
	final := healthOf(t, store, 1)
	if replay[len(replay)-1].To != final.State {
		t.Fatalf("replay ends at %s, store says %s", replay[len(replay)-1].To, final.State)
	}

	// Exactly one alert: the entry into stopped. Stale is not page-worthy.
	if got := len(n.Messages()); got != 1 {
		t.Fatalf("alerts = %d, want 1", got)
	}
}

func TestPerBotWindowsOverrideDefaults(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
	store := botstore.NewMemory()
	beats := hbsvc.NewMemory(time.Hour).WithNow(clock.Now)

	// A fast pair: 5 minutes of silence already means something is wrong.
	seedRunningBot(t, store, 1, models.HealthConfig{
		FreshWithin: 5 * time.Minute,
		StaleWithin: 10 * time.Minute,
	})
	recordTradeAt(t, store, 1, clock.now.Add(-7*time.Minute))

	m, _, _ := newTestMonitor(store, beats, clock)
	m.EvaluateAll(context.Background())

	if got := healthOf(t, store, 1).State; got != models.HealthStale {
		t.Fatalf("state = %s, want stale under the bot's own windows", got)
	}
}

func TestEvaluateAllSkipsPassOnListFailure(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
	mem := botstore.NewMemory()
	store := &flakyStore{Store: mem, listErr: errors.New("connection refused")}
	beats := hbsvc.NewMemory(time.Hour).WithNow(clock.Now)

	seedRunningBot(t, mem, 1, models.HealthConfig{})

	m, n, _ := newTestMonitor(store, beats, clock)
	m.EvaluateAll(context.Background())

	if got := healthOf(t, mem, 1).State; got != models.HealthUnknown {
		t.Fatalf("state written on a skipped pass: %s", got)
	}
	if len(n.Messages()) != 0 {
		t.Fatalf("alerts fired on a skipped pass: %q", n.Messages())
	}
}

func TestStoppedBotsAreNotEvaluated(t *testing.T) {
	clock := &testClock{now: time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)}
	store := botstore.NewMemory()
	beats := hbsvc.NewMemory(time.Hour).WithNow(clock.Now)

	bot := seedRunningBot(t, store, 1, models.HealthConfig{})
	if err := store.SetStatus(context.Background(), bot.ID, models.StatusStopped); err != nil {
		t.Fatalf("set status: %v", err)
	}

	m, n, _ := newTestMonitor(store, beats, clock)
	m.EvaluateAll(context.Background())

	// An operator-stopped bot is intent, not a failure: no verdict, no alert.
	if got := healthOf(t, store, 1).State; got != models.HealthUnknown {
		t.Fatalf("stopped bot was evaluated: %s", got)
	}
	if len(n.Messages()) != 0 {
		t.Fatalf("alerts for an operator-stopped bot: %q", n.Messages())
	}
}

func TestRunLoopStartsAndStops(t *testing.T) {
	store := botstore.NewMemory()
	beats := hbsvc.NewMemory(time.Hour)
	state := opssvc.NewState()
	m := NewMonitor(Config{Tick: time.Hour}, store, beats,
		&captureNotifier{}, &captureBroadcaster{},
		metrics.New(prometheus.NewRegistry()), state)

	go m.Run(context.Background())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && !state.MonitorUp() {
		time.Sleep(2 * time.Millisecond)
	}
	if !state.MonitorUp() {
		t.Fatal("monitor never came up")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if state.MonitorUp() {
		t.Fatal("monitor bit still up after stop")
	}
}
