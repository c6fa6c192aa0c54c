package service

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/mux"

	"bot_fleet/internal/metrics"
	"bot_fleet/internal/models"
	botstore "bot_fleet/internal/modules/botstore/service"
	hbsvc "bot_fleet/internal/modules/heartbeat/service"
	"bot_fleet/pkg/logger"
)

const defaultHealthLogLimit = 50

// Handlers serves the read-only ops surface plus the heartbeat ingest.
// Everything here observes the fleet; nothing here trades.
type Handlers struct {
	store   botstore.Store
	beats   hbsvc.Store
	state   *State
	hub     *Hub
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewHandlers(
	store botstore.Store,
	beats hbsvc.Store,
	state *State,
	hub *Hub,
	m *metrics.Metrics,
) *Handlers {
	return &Handlers{
		store:   store,
		beats:   beats,
		state:   state,
		hub:     hub,
		metrics: m,
		now:     time.Now,
	}
}

// Livez: процесс жив.
func (h *Handlers) Livez(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Readyz: готов, когда оба лупа (runner + monitor) подняты.
func (h *Handlers) Readyz(w http.ResponseWriter, _ *http.Request) {
	if !h.state.Ready() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Healthz dumps the loop liveness snapshot for debugging.
func (h *Handlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"ready":           h.state.Ready(),
		"runnerUp":        h.state.RunnerUp(),
		"monitorUp":       h.state.MonitorUp(),
		"uptimeSec":       int64(h.state.Uptime().Seconds()),
		"runnerTickUnix":  unixOrNil(h.state.LastRunnerTick()),
		"monitorTickUnix": unixOrNil(h.state.LastMonitorTick()),
		"wsClients":       h.hub.Clients(),
	})
}

// ListBots returns every bot joined with its latest health verdict.
func (h *Handlers) ListBots(w http.ResponseWriter, r *http.Request) {
	bots, err := h.store.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	views := make([]BotStatusView, 0, len(bots))
	for _, bot := range bots {
		views = append(views, h.statusView(r, bot))
	}
	h.writeJSON(w, http.StatusOK, views)
}

// GetBotStatus returns one bot's joined view.
func (h *Handlers) GetBotStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.botID(w, r)
	if !ok {
		return
	}

	bot, err := h.store.Get(r.Context(), id)
	if errors.Is(err, botstore.ErrNotFound) {
		http.Error(w, "bot not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, h.statusView(r, bot))
}

// GetHealthLog returns the bot's transition history, newest first.
func (h *Handlers) GetHealthLog(w http.ResponseWriter, r *http.Request) {
	id, ok := h.botID(w, r)
	if !ok {
		return
	}
	if _, err := h.store.Get(r.Context(), id); errors.Is(err, botstore.ErrNotFound) {
		http.Error(w, "bot not found", http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	limit := defaultHealthLogLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.store.HealthLog(r.Context(), id, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []models.HealthLogEntry{}
	}
	h.writeJSON(w, http.StatusOK, entries)
}

// GetFleetSummary aggregates the whole fleet into one dashboard row.
func (h *Handlers) GetFleetSummary(w http.ResponseWriter, r *http.Request) {
	bots, err := h.store.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	sum := FleetSummary{
		Bots: len(bots),
		ByHealth: map[models.HealthState]int{
			models.HealthUnknown: 0,
			models.HealthHealthy: 0,
			models.HealthStale:   0,
			models.HealthStopped: 0,
			models.HealthError:   0,
		},
		UptimeSeconds: int64(h.state.Uptime().Seconds()),
		WSClients:     h.hub.Clients(),
	}
	for _, bot := range bots {
		switch bot.Status {
		case models.StatusRunning:
			sum.Running++
		case models.StatusStopped:
			sum.Stopped++
		}
		st, err := h.store.HealthFor(r.Context(), bot.ID)
		if err != nil {
			logger.Error("[OPS] bot=%d health lookup: %v", bot.ID, err)
			sum.ByHealth[models.HealthUnknown]++
			continue
		}
		sum.ByHealth[st.State]++
	}
	if t := h.state.LastRunnerTick(); !t.IsZero() {
		sum.RunnerLastTick = &t
	}
	if t := h.state.LastMonitorTick(); !t.IsZero() {
		sum.MonitorLastTick = &t
	}
	h.writeJSON(w, http.StatusOK, sum)
}

// PostHeartbeat ingests liveness evidence from an externally running bot.
func (h *Handlers) PostHeartbeat(w http.ResponseWriter, r *http.Request) {
	var hb models.Heartbeat
	if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&hb); err != nil {
		http.Error(w, "invalid heartbeat body", http.StatusBadRequest)
		return
	}
	if hb.BotID <= 0 {
		http.Error(w, "bot_id is required", http.StatusBadRequest)
		return
	}

	// Heartbeats for unregistered bots are rejected, not silently stored:
	// a typo'd id must not fabricate liveness evidence.
	if _, err := h.store.Get(r.Context(), hb.BotID); errors.Is(err, botstore.ErrNotFound) {
		http.Error(w, "bot not found", http.StatusNotFound)
		return
	} else if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if hb.At.IsZero() {
		hb.At = h.now().UTC()
	}
	if err := h.beats.Record(r.Context(), hb); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.metrics.Heartbeats.Inc()
	h.writeJSON(w, http.StatusAccepted, hb)
}

func (h *Handlers) statusView(r *http.Request, bot models.Bot) BotStatusView {
	st, err := h.store.HealthFor(r.Context(), bot.ID)
	if err != nil {
		logger.Error("[OPS] bot=%d health lookup: %v", bot.ID, err)
		return NewBotStatusView(bot, nil)
	}
	return NewBotStatusView(bot, &st)
}

func (h *Handlers) botID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid bot id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func (h *Handlers) writeJSON(w http.ResponseWriter, code int, v any) {
	body, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func unixOrNil(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	u := t.Unix()
	return &u
}
