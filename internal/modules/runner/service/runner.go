package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opentracing/opentracing-go"

	"bot_fleet/internal/metrics"
	"bot_fleet/internal/models"
	botstore "bot_fleet/internal/modules/botstore/service"
	exch "bot_fleet/internal/modules/exchange/service"
	opssvc "bot_fleet/internal/modules/opsapi/service"
	strat "bot_fleet/internal/modules/strategy/service"
	"bot_fleet/pkg/logger"
)

// GatewayResolver builds a gateway for an exchange id and a resolved key
// set. *exch.Registry is the production implementation.
type GatewayResolver interface {
	Resolve(name string, creds exch.Credentials) (exch.Gateway, error)
}

// ExecutorFactory builds the executor matching a bot's strategy.
// *strat.Factory is the production implementation.
type ExecutorFactory interface {
	New(bot models.Bot, gw exch.Gateway) (strat.Executor, error)
}

type Config struct {
	Tick         time.Duration // discovery interval
	CycleTimeout time.Duration // budget for one whole bot cycle
	CallTimeout  time.Duration // budget for bookkeeping calls (close, record)
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = 10 * time.Second
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = 30 * time.Second
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = 10 * time.Second
	}
	return c
}

// session is one bot's in-memory runtime: its executor plus the in-progress
// guard. inFlight is the only field a cycle goroutine touches; everything
// else belongs to the tick goroutine.
type session struct {
	executor  strat.Executor
	createdAt time.Time

	inFlight atomic.Bool
	// lastErr mirrors the store's last_error to skip redundant writes.
	// Touched only while inFlight is held, or at construction.
	lastErr string
}

// Runner discovers running bots every tick, owns one executor per bot and
// drives their cycles. The sessions map has an explicit create/evict
// lifecycle tied to reported status and is mutated only by the tick
// goroutine; cycles run concurrently across bots, never concurrently for
// one bot.
//
// Single-process assumption: with two Runner instances the per-bot
// mutual exclusion breaks; horizontal scaling needs an external per-bot
// lease first.
type Runner struct {
	cfg      Config
	store    botstore.Store
	gateways GatewayResolver
	creds    exch.CredentialSource
	factory  ExecutorFactory
	metrics  *metrics.Metrics
	state    *opssvc.State
	now      func() time.Time

	sessions map[int64]*session
	// setupErr keeps the last recorded construction failure per bot
	// (missing credentials and such), so the every-tick retry does not
	// rewrite the same row endlessly.
	setupErr map[int64]string

	wg       sync.WaitGroup
	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}
}

func NewRunner(
	cfg Config,
	store botstore.Store,
	gateways GatewayResolver,
	creds exch.CredentialSource,
	factory ExecutorFactory,
	m *metrics.Metrics,
	state *opssvc.State,
) *Runner {
	return &Runner{
		cfg:      cfg.withDefaults(),
		store:    store,
		gateways: gateways,
		creds:    creds,
		factory:  factory,
		metrics:  m,
		state:    state,
		now:      time.Now,
		sessions: make(map[int64]*session),
		setupErr: make(map[int64]string),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// WithNow overrides the clock, for tests.
func (r *Runner) WithNow(now func() time.Time) *Runner {
	if now != nil {
		r.now = now
	}
	return r
}

// Run drives the tick loop until Stop or parent cancellation.
func (r *Runner) Run(parent context.Context) {
	defer close(r.done)

	ctx, cancel := context.WithCancel(parent)
	defer cancel() // гасим in-flight циклы вместе с лупом

	r.state.SetRunnerUp(true)
	defer r.state.SetRunnerUp(false)
	logger.Info("[RUNNER] loop started: tick=%s cycle_timeout=%s", r.cfg.Tick, r.cfg.CycleTimeout)

	ticker := time.NewTicker(r.cfg.Tick)
	defer ticker.Stop()

	r.Tick(ctx)
	for {
		select {
		case <-r.quit:
			return
		case <-parent.Done():
			return
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Stop halts the loop, waits for in-flight cycles as long as ctx allows and
// closes every executor (spread bots cancel their resting quotes).
func (r *Runner) Stop(ctx context.Context) error {
	r.quitOnce.Do(func() { close(r.quit) })

	select {
	case <-r.done:
	case <-ctx.Done():
		return fmt.Errorf("runner stop: loop did not exit: %w", ctx.Err())
	}

	cycles := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(cycles)
	}()
	select {
	case <-cycles:
	case <-ctx.Done():
		logger.Error("[RUNNER] stop: cycles still in flight at deadline")
	}

	var errs []error
	for id, s := range r.sessions {
		if err := s.executor.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close bot %d: %w", id, err))
		}
		delete(r.sessions, id)
	}
	logger.Info("[RUNNER] stopped")
	return errors.Join(errs...)
}

// Tick is one scheduling pass: list running bots, evict the stopped,
// get-or-create executors, launch cycles. Any per-bot failure stays with
// that bot; a registry failure skips the whole pass and is retried on the
// next tick.
func (r *Runner) Tick(ctx context.Context) {
	bots, err := r.store.ListByStatus(ctx, models.StatusRunning)
	if err != nil {
		logger.Error("[RUNNER] list running bots: %v (skip tick)", err)
		return
	}
	r.state.TouchRunnerTick(r.now())

	running := make(map[int64]struct{}, len(bots))
	for _, b := range bots {
		running[b.ID] = struct{}{}
	}

	// Статус ушёл из running — эвикция и немедленная остановка торговли.
	for id, s := range r.sessions {
		if _, ok := running[id]; ok {
			continue
		}
		if s.inFlight.Load() {
			// Цикл ещё дорабатывает; эвикция на следующем тике.
			continue
		}
		r.evict(ctx, id, s)
	}
	for id := range r.setupErr {
		if _, ok := running[id]; !ok {
			delete(r.setupErr, id)
		}
	}

	for _, bot := range bots {
		s, ok := r.sessions[bot.ID]
		if !ok {
			created, cerr := r.newSession(bot)
			if cerr != nil {
				// Не фатально: бот остаётся running по intent, пробуем
				// каждый тик. Монитор доведёт его до stopped по факту.
				r.noteSetupError(ctx, bot, cerr)
				continue
			}
			s = created
			r.sessions[bot.ID] = s
			delete(r.setupErr, bot.ID)
			logger.Info("[RUNNER] bot=%d executor created: %s %s on %s",
				bot.ID, bot.Strategy, bot.Pair, bot.Exchange)
		}

		// Один цикл на бота в любой момент времени.
		if !s.inFlight.CompareAndSwap(false, true) {
			logger.Info("[RUNNER] bot=%d previous cycle still running, skip", bot.ID)
			continue
		}
		r.launch(ctx, bot, s)
	}
}

// Sessions reports the bot ids with a live executor, for the status view.
func (r *Runner) Sessions() int {
	return len(r.sessions)
}

func (r *Runner) newSession(bot models.Bot) (*session, error) {
	creds, err := r.creds.For(bot.Exchange)
	if err != nil {
		return nil, fmt.Errorf("resolve credentials: %w", err)
	}
	gw, err := r.gateways.Resolve(bot.Exchange, creds)
	if err != nil {
		return nil, err
	}
	ex, err := r.factory.New(bot, gw)
	if err != nil {
		return nil, err
	}
	return &session{
		executor:  ex,
		createdAt: r.now(),
		// Наследуем записанную ошибку конструирования: первый удачный
		// цикл сотрёт её в сторе.
		lastErr: r.setupErr[bot.ID],
	}, nil
}

func (r *Runner) evict(ctx context.Context, id int64, s *session) {
	cctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	if err := s.executor.Close(cctx); err != nil {
		// Квоты могли остаться на книге; новый executor этого бота
		// подберёт их через FetchOpenOrders.
		logger.Error("[RUNNER] bot=%d close executor: %v", id, err)
	}
	delete(r.sessions, id)
	logger.Info("[RUNNER] bot=%d evicted, trading halted", id)
}

// launch runs one cycle in its own goroutine. Panics and errors stay with
// this bot; the guard clears when the cycle finishes or is abandoned by
// its deadline.
func (r *Runner) launch(ctx context.Context, bot models.Bot, s *session) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer s.inFlight.Store(false)

		span := opentracing.StartSpan("runner.cycle")
		span.SetTag("bot.id", bot.ID)
		span.SetTag("strategy", string(bot.Strategy))
		defer span.Finish()

		cctx, cancel := context.WithTimeout(opentracing.ContextWithSpan(ctx, span), r.cfg.CycleTimeout)
		defer cancel()

		err := runGuarded(cctx, s.executor, bot)

		r.metrics.CyclesTotal.WithLabelValues(string(bot.Strategy)).Inc()
		if err != nil {
			r.metrics.CycleErrors.WithLabelValues(string(bot.Strategy)).Inc()
			span.SetTag("error", true)
			logger.Error("[RUNNER] bot=%d cycle: %v", bot.ID, err)
		}
		r.recordOutcome(bot.ID, s, err)
	}()
}

// runGuarded converts an executor panic into this bot's cycle error.
func runGuarded(ctx context.Context, ex strat.Executor, bot models.Bot) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("cycle panic: %v", p)
		}
	}()
	return ex.RunCycle(ctx, bot)
}

// recordOutcome mirrors the cycle result into the bot row, writing only on
// change. The cycle's own context may already be past its deadline, so the
// write gets a fresh one.
func (r *Runner) recordOutcome(botID int64, s *session, cycleErr error) {
	msg := ""
	if cycleErr != nil {
		msg = cycleErr.Error()
	}
	if msg == s.lastErr {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.CallTimeout)
	defer cancel()
	if err := r.store.SetLastError(ctx, botID, msg); err != nil {
		logger.Error("[RUNNER] bot=%d record cycle outcome: %v", botID, err)
		return
	}
	s.lastErr = msg
}

// noteSetupError records a construction failure (usually credentials) once
// per distinct message; the retry itself happens naturally every tick.
func (r *Runner) noteSetupError(ctx context.Context, bot models.Bot, cause error) {
	msg := cause.Error()
	if errors.Is(cause, exch.ErrNoCredentials) {
		msg = fmt.Sprintf("missing credentials for %s", bot.Exchange)
	}
	if r.setupErr[bot.ID] == msg {
		return
	}
	logger.Error("[RUNNER] bot=%d not started: %s (retrying every tick)", bot.ID, msg)

	cctx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()
	if err := r.store.SetLastError(cctx, bot.ID, msg); err != nil {
		logger.Error("[RUNNER] bot=%d record setup error: %v", bot.ID, err)
		return
	}
	r.setupErr[bot.ID] = msg
}
