package service

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"

	"bot_fleet/internal/metrics"
	"bot_fleet/internal/models"
	botstore "bot_fleet/internal/modules/botstore/service"
	hbsvc "bot_fleet/internal/modules/heartbeat/service"
	"bot_fleet/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type testAPI struct {
	router http.Handler
	store  *botstore.Memory
	beats  *hbsvc.Memory
	state  *State
	hub    *Hub
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	store := botstore.NewMemory()
	beats := hbsvc.NewMemory(time.Hour)
	state := NewState()
	hub := NewHub()
	t.Cleanup(func() { _ = hub.Close() })

	reg := prometheus.NewRegistry()
	h := NewHandlers(store, beats, state, hub, metrics.New(reg))
	return &testAPI{
		router: NewRouter(h, hub, reg),
		store:  store,
		beats:  beats,
		state:  state,
		hub:    hub,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, req)
	return rr
}

func (a *testAPI) seedBot(t *testing.T, id int64, status models.ReportedStatus) models.Bot {
	t.Helper()
	bot := models.Bot{
		ID:       id,
		TenantID: 1,
		Exchange: "paper",
		Pair:     "BTC/USDT",
		Strategy: models.StrategyVolume,
		Status:   status,
	}
	if err := a.store.Create(context.Background(), &bot); err != nil {
		t.Fatalf("create bot: %v", err)
	}
	return bot
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := sonic.Unmarshal(rr.Body.Bytes(), out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
}

func TestProbes(t *testing.T) {
	api := newTestAPI(t)

	if rr := api.do(t, http.MethodGet, "/livez", nil); rr.Code != http.StatusOK {
		t.Fatalf("/livez = %d, want 200", rr.Code)
	}

	// Not ready until both loops report up.
	if rr := api.do(t, http.MethodGet, "/readyz", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("/readyz before loops = %d, want 503", rr.Code)
	}
	api.state.SetRunnerUp(true)
	if rr := api.do(t, http.MethodGet, "/readyz", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("/readyz with only the runner = %d, want 503", rr.Code)
	}
	api.state.SetMonitorUp(true)
	if rr := api.do(t, http.MethodGet, "/readyz", nil); rr.Code != http.StatusOK {
		t.Fatalf("/readyz with both loops = %d, want 200", rr.Code)
	}

	rr := api.do(t, http.MethodGet, "/healthz", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("/healthz = %d, want 200", rr.Code)
	}
	var debug map[string]any
	decodeJSON(t, rr, &debug)
	if ready, _ := debug["ready"].(bool); !ready {
		t.Fatalf("healthz ready = %v, want true", debug["ready"])
	}
}

func TestListBotsJoinsHealth(t *testing.T) {
	api := newTestAPI(t)
	api.seedBot(t, 1, models.StatusRunning)
	api.seedBot(t, 2, models.StatusRunning)

	checked := time.Now().UTC()
	if err := api.store.SaveHealth(context.Background(), models.HealthStatus{
		BotID: 1, State: models.HealthHealthy, Reason: "activity 2m ago", CheckedAt: checked,
	}); err != nil {
		t.Fatalf("save health: %v", err)
	}

	rr := api.do(t, http.MethodGet, "/api/v1/bots", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var views []BotStatusView
	decodeJSON(t, rr, &views)
	if len(views) != 2 {
		t.Fatalf("bots = %d, want 2", len(views))
	}
	if views[0].HealthStatus != models.HealthHealthy {
		t.Fatalf("bot 1 health = %s, want healthy", views[0].HealthStatus)
	}
	// Never-evaluated bots read as unknown, not as an error.
	if views[1].HealthStatus != models.HealthUnknown {
		t.Fatalf("bot 2 health = %s, want unknown", views[1].HealthStatus)
	}
}

func TestGetBotStatus(t *testing.T) {
	api := newTestAPI(t)
	api.seedBot(t, 7, models.StatusRunning)

	rr := api.do(t, http.MethodGet, "/api/v1/bots/7/status", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var view BotStatusView
	decodeJSON(t, rr, &view)
	if view.BotID != 7 || view.ReportedStatus != models.StatusRunning {
		t.Fatalf("unexpected view: %+v", view)
	}

	if rr := api.do(t, http.MethodGet, "/api/v1/bots/99/status", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown bot = %d, want 404", rr.Code)
	}
	if rr := api.do(t, http.MethodGet, "/api/v1/bots/abc/status", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad id = %d, want 400", rr.Code)
	}
}

func TestGetHealthLog(t *testing.T) {
	api := newTestAPI(t)
	api.seedBot(t, 1, models.StatusRunning)

	base := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	for i, to := range []models.HealthState{models.HealthHealthy, models.HealthStale} {
		from := models.HealthUnknown
		if i > 0 {
			from = models.HealthHealthy
		}
		if err := api.store.AppendHealthLog(context.Background(), models.HealthLogEntry{
			BotID: 1, From: from, To: to, Reason: "r", CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("append log: %v", err)
		}
	}

	rr := api.do(t, http.MethodGet, "/api/v1/bots/1/health-log", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var entries []models.HealthLogEntry
	decodeJSON(t, rr, &entries)
	if len(entries) != 2 || entries[0].To != models.HealthStale {
		t.Fatalf("entries = %+v, want 2 rows newest first", entries)
	}

	rr = api.do(t, http.MethodGet, "/api/v1/bots/1/health-log?limit=1", nil)
	entries = nil
	decodeJSON(t, rr, &entries)
	if len(entries) != 1 || entries[0].To != models.HealthStale {
		t.Fatalf("limited entries = %+v, want only the newest", entries)
	}

	if rr := api.do(t, http.MethodGet, "/api/v1/bots/1/health-log?limit=zero", nil); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d, want 400", rr.Code)
	}
	if rr := api.do(t, http.MethodGet, "/api/v1/bots/99/health-log", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown bot = %d, want 404", rr.Code)
	}
}

func TestFleetSummary(t *testing.T) {
	api := newTestAPI(t)
	api.seedBot(t, 1, models.StatusRunning)
	api.seedBot(t, 2, models.StatusRunning)
	api.seedBot(t, 3, models.StatusStopped)

	if err := api.store.SaveHealth(context.Background(), models.HealthStatus{
		BotID: 1, State: models.HealthHealthy,
	}); err != nil {
		t.Fatalf("save health: %v", err)
	}
	if err := api.store.SaveHealth(context.Background(), models.HealthStatus{
		BotID: 2, State: models.HealthStopped,
	}); err != nil {
		t.Fatalf("save health: %v", err)
	}

	rr := api.do(t, http.MethodGet, "/api/v1/fleet/summary", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	var sum FleetSummary
	decodeJSON(t, rr, &sum)
	if sum.Bots != 3 || sum.Running != 2 || sum.Stopped != 1 {
		t.Fatalf("counts = %d/%d/%d, want 3/2/1", sum.Bots, sum.Running, sum.Stopped)
	}
	if sum.ByHealth[models.HealthHealthy] != 1 ||
		sum.ByHealth[models.HealthStopped] != 1 ||
		sum.ByHealth[models.HealthUnknown] != 1 {
		t.Fatalf("by_health = %+v", sum.ByHealth)
	}
}

func TestPostHeartbeat(t *testing.T) {
	api := newTestAPI(t)
	api.seedBot(t, 1, models.StatusRunning)

	// Unregistered bots must not be able to fabricate liveness evidence.
	body, _ := sonic.Marshal(models.Heartbeat{BotID: 42, Status: "alive"})
	if rr := api.do(t, http.MethodPost, "/api/v1/heartbeat", body); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown bot = %d, want 404", rr.Code)
	}

	if rr := api.do(t, http.MethodPost, "/api/v1/heartbeat", []byte("{")); rr.Code != http.StatusBadRequest {
		t.Fatalf("malformed body = %d, want 400", rr.Code)
	}
	body, _ = sonic.Marshal(models.Heartbeat{Status: "alive"})
	if rr := api.do(t, http.MethodPost, "/api/v1/heartbeat", body); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing bot_id = %d, want 400", rr.Code)
	}

	// Accepted: the server stamps the time when the sender left it out.
	body, _ = sonic.Marshal(models.Heartbeat{BotID: 1, Status: "alive"})
	rr := api.do(t, http.MethodPost, "/api/v1/heartbeat", body)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", rr.Code, rr.Body.String())
	}
	var hb models.Heartbeat
	decodeJSON(t, rr, &hb)
	if hb.At.IsZero() {
		t.Fatal("accepted heartbeat has no timestamp")
	}

	stored, err := api.beats.Latest(context.Background(), 1)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if stored == nil || stored.Status != "alive" {
		t.Fatalf("heartbeat not stored: %+v", stored)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	api := newTestAPI(t)

	rr := api.do(t, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "fleet_heartbeats_total") {
		t.Fatalf("metrics body misses fleet counters:\n%s", rr.Body.String())
	}
}
