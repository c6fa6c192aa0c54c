package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/opentracing/opentracing-go"

	"bot_fleet/internal/metrics"
	"bot_fleet/internal/models"
	botstore "bot_fleet/internal/modules/botstore/service"
	hbsvc "bot_fleet/internal/modules/heartbeat/service"
	opssvc "bot_fleet/internal/modules/opsapi/service"
	"bot_fleet/internal/notify"
	"bot_fleet/pkg/logger"
)

// Broadcaster pushes health transitions to live ops clients. The websocket
// hub is the production implementation.
type Broadcaster interface {
	BroadcastHealth(e models.HealthLogEntry)
}

type Config struct {
	Tick        time.Duration       // evaluation interval
	CallTimeout time.Duration       // budget per bot evaluation
	Defaults    models.HealthConfig // windows for bots that carry none
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = 5 * time.Minute
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	if c.Defaults.FreshWithin <= 0 {
		c.Defaults.FreshWithin = 30 * time.Minute
	}
	if c.Defaults.StaleWithin <= 0 {
		c.Defaults.StaleWithin = 2 * time.Hour
	}
	return c
}

// Monitor independently verifies that running bots actually trade. It never
// places or cancels orders and shares nothing with the runner but the bot
// registry: reported status stays the operator's intent, health state is
// the observed fact.
type Monitor struct {
	cfg      Config
	store    botstore.Store
	beats    hbsvc.Store
	notifier notify.Notifier
	hub      Broadcaster
	metrics  *metrics.Metrics
	state    *opssvc.State
	now      func() time.Time

	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
}

func NewMonitor(
	cfg Config,
	store botstore.Store,
	beats hbsvc.Store,
	notifier notify.Notifier,
	hub Broadcaster,
	m *metrics.Metrics,
	state *opssvc.State,
) *Monitor {
	return &Monitor{
		cfg:      cfg.withDefaults(),
		store:    store,
		beats:    beats,
		notifier: notifier,
		hub:      hub,
		metrics:  m,
		state:    state,
		now:      time.Now,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// WithNow overrides the clock, for tests.
func (m *Monitor) WithNow(now func() time.Time) *Monitor {
	if now != nil {
		m.now = now
	}
	return m
}

// Run drives the evaluation loop until Stop or parent cancellation.
func (m *Monitor) Run(parent context.Context) {
	defer close(m.done)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	m.state.SetMonitorUp(true)
	defer m.state.SetMonitorUp(false)
	logger.Info("[MONITOR] loop started: tick=%s fresh=%s stale=%s",
		m.cfg.Tick, m.cfg.Defaults.FreshWithin, m.cfg.Defaults.StaleWithin)

	ticker := time.NewTicker(m.cfg.Tick)
	defer ticker.Stop()

	m.EvaluateAll(ctx)
	for {
		select {
		case <-m.quit:
			return
		case <-parent.Done():
			return
		case <-ticker.C:
			m.EvaluateAll(ctx)
		}
	}
}

func (m *Monitor) Stop(ctx context.Context) error {
	m.quitOnce.Do(func() { close(m.quit) })
	select {
	case <-m.done:
		logger.Info("[MONITOR] stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("monitor stop: loop did not exit: %w", ctx.Err())
	}
}

// EvaluateAll classifies every running bot and refreshes the per-state
// gauge. A registry failure skips the pass; the loop never exits on it.
func (m *Monitor) EvaluateAll(ctx context.Context) {
	bots, err := m.store.ListByStatus(ctx, models.StatusRunning)
	if err != nil {
		logger.Error("[MONITOR] list running bots: %v (skip pass)", err)
		return
	}
	m.state.TouchMonitorTick(m.now())

	counts := make(map[models.HealthState]int, 5)
	for _, bot := range bots {
		st, ok := m.EvaluateBot(ctx, bot)
		if !ok {
			continue
		}
		counts[st.State]++
	}

	m.metrics.BotsByHealth.Reset()
	for _, state := range []models.HealthState{
		models.HealthUnknown, models.HealthHealthy, models.HealthStale,
		models.HealthStopped, models.HealthError,
	} {
		m.metrics.BotsByHealth.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

// EvaluateBot gathers evidence for one bot, classifies it, persists the
// verdict and, on a state change, appends the audit row, alerts the
// operator channel and broadcasts the transition.
func (m *Monitor) EvaluateBot(ctx context.Context, bot models.Bot) (models.HealthStatus, bool) {
	span := opentracing.StartSpan("monitor.evaluate")
	span.SetTag("bot.id", bot.ID)
	defer span.Finish()

	cctx, cancel := context.WithTimeout(opentracing.ContextWithSpan(ctx, span), m.cfg.CallTimeout)
	defer cancel()

	now := m.now()
	cfg := m.windows(bot)
	ev := m.gather(cctx, bot, now, cfg)
	state, reason := Classify(now, ev, cfg)

	prev, err := m.store.HealthFor(cctx, bot.ID)
	if err != nil {
		logger.Error("[MONITOR] bot=%d read health: %v", bot.ID, err)
		return models.HealthStatus{}, false
	}

	st := models.HealthStatus{
		BotID:          bot.ID,
		State:          state,
		Reason:         reason,
		CheckedAt:      now,
		LastActivityAt: ev.ActivityAt,
	}
	if err := m.store.SaveHealth(cctx, st); err != nil {
		logger.Error("[MONITOR] bot=%d save health: %v", bot.ID, err)
		return models.HealthStatus{}, false
	}

	if prev.State != state {
		m.onTransition(cctx, bot, prev.State, st)
	}
	return st, true
}

// gather collects liveness evidence. The trade ledger is the primary
// signal; a sufficiently recent heartbeat counts the same. A ledger query
// failure means the state is unknowable. A heartbeat-store failure only
// degrades to error when the ledger showed nothing; fills already prove
// the bot alive.
func (m *Monitor) gather(ctx context.Context, bot models.Bot, now time.Time, cfg models.HealthConfig) Evidence {
	var newest *time.Time

	// Сделки старше внешнего окна вердикт не меняют — stopped и так.
	trades, err := m.store.TradesSince(ctx, bot.ID, now.Add(-cfg.StaleWithin))
	if err != nil {
		return Evidence{Err: err}
	}
	if len(trades) > 0 {
		at := trades[len(trades)-1].ExecutedAt
		newest = &at
	}

	hb, err := m.beats.Latest(ctx, bot.ID)
	if err != nil {
		if newest == nil {
			return Evidence{Err: err}
		}
		logger.Error("[MONITOR] bot=%d heartbeat lookup: %v (classifying on trades alone)", bot.ID, err)
	}
	if hb != nil && (newest == nil || hb.At.After(*newest)) {
		at := hb.At
		newest = &at
	}
	return Evidence{ActivityAt: newest}
}

func (m *Monitor) onTransition(ctx context.Context, bot models.Bot, from models.HealthState, st models.HealthStatus) {
	entry := models.HealthLogEntry{
		BotID:     bot.ID,
		From:      from,
		To:        st.State,
		Reason:    st.Reason,
		CreatedAt: st.CheckedAt,
	}
	if err := m.store.AppendHealthLog(ctx, entry); err != nil {
		logger.Error("[MONITOR] bot=%d append health log: %v", bot.ID, err)
	}
	logger.Info("[MONITOR] bot=%d %s -> %s: %s", bot.ID, from, st.State, st.Reason)

	// Алертим только входы в проблемные состояния; выздоровление видно
	// на статус-странице.
	if st.State == models.HealthError || st.State == models.HealthStopped {
		m.notifier.Sendf("🚨 bot %d (%s %s on %s): %s → %s\n%s",
			bot.ID, bot.Strategy, bot.Pair, bot.Exchange, from, st.State, st.Reason)
	}
	if m.hub != nil {
		m.hub.BroadcastHealth(entry)
	}
}

// windows resolves the bot's liveness windows, falling back to the
// monitor-wide defaults. Pairs differ wildly in natural trade frequency,
// so these stay per-bot configuration.
func (m *Monitor) windows(bot models.Bot) models.HealthConfig {
	cfg := bot.HealthCfg
	if cfg.FreshWithin <= 0 {
		cfg.FreshWithin = m.cfg.Defaults.FreshWithin
	}
	if cfg.StaleWithin <= 0 {
		cfg.StaleWithin = m.cfg.Defaults.StaleWithin
	}
	if cfg.StaleWithin < cfg.FreshWithin {
		cfg.StaleWithin = cfg.FreshWithin
	}
	return cfg
}
