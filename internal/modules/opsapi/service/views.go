package service

import (
	"time"

	"bot_fleet/internal/models"
)

// BotStatusView joins the operator's intent with the monitor's verdict,
// the row a dashboard renders per bot.
type BotStatusView struct {
	BotID    int64  `json:"bot_id"`
	Pair     string `json:"pair"`
	Exchange string `json:"exchange"`
	Strategy string `json:"strategy"`

	ReportedStatus models.ReportedStatus `json:"reported_status"`
	HealthStatus   models.HealthState    `json:"health_status"`
	HealthMessage  string                `json:"health_message,omitempty"`

	LastActivityAt *time.Time `json:"last_activity_at,omitempty"`
	LastTradeAt    *time.Time `json:"last_trade_at,omitempty"`

	VolumeToday float64 `json:"volume_today"`
	TradesToday int64   `json:"trades_today"`
	LastError   string  `json:"last_error,omitempty"`
}

// NewBotStatusView merges a bot row with its latest health verdict. A bot
// the monitor has never evaluated reads as unknown.
func NewBotStatusView(bot models.Bot, health *models.HealthStatus) BotStatusView {
	v := BotStatusView{
		BotID:          bot.ID,
		Pair:           bot.Pair,
		Exchange:       bot.Exchange,
		Strategy:       string(bot.Strategy),
		ReportedStatus: bot.Status,
		HealthStatus:   models.HealthUnknown,
		LastTradeAt:    bot.Counters.LastTradeAt,
		VolumeToday:    bot.Counters.VolumeToday,
		TradesToday:    bot.Counters.TradesToday,
		LastError:      bot.Counters.LastError,
	}
	if health != nil {
		v.HealthStatus = health.State
		v.HealthMessage = health.Reason
		v.LastActivityAt = health.LastActivityAt
	}
	return v
}

// FleetSummary is the aggregate view behind /api/v1/fleet/summary.
type FleetSummary struct {
	Bots     int                        `json:"bots"`
	Running  int                        `json:"running"`
	Stopped  int                        `json:"stopped"`
	ByHealth map[models.HealthState]int `json:"by_health"`

	RunnerLastTick  *time.Time `json:"runner_last_tick,omitempty"`
	MonitorLastTick *time.Time `json:"monitor_last_tick,omitempty"`
	UptimeSeconds   int64      `json:"uptime_seconds"`
	WSClients       int        `json:"ws_clients"`
}
