package models

import (
	"strings"
	"time"
)

type StrategyKind string

const (
	StrategyVolume StrategyKind = "volume"
	StrategySpread StrategyKind = "spread"
)

// ReportedStatus is the operator's intent for a bot. It says nothing about
// whether the bot is actually trading; that is the health monitor's verdict.
type ReportedStatus string

const (
	StatusRunning ReportedStatus = "running"
	StatusStopped ReportedStatus = "stopped"
)

// Bot is one independently scheduled trading automation unit.
// Rows are soft-disabled (status flips to stopped), never deleted while
// health history references them.
type Bot struct {
	ID       int64  `json:"id"`
	TenantID int64  `json:"tenant_id"`
	Exchange string `json:"exchange"`
	Pair     string `json:"pair"` // "BASE/QUOTE", e.g. "BTC/USDT"

	Strategy StrategyKind   `json:"strategy"`
	Status   ReportedStatus `json:"status"`

	VolumeCfg *VolumeConfig `json:"volume_cfg,omitempty"`
	SpreadCfg *SpreadConfig `json:"spread_cfg,omitempty"`
	HealthCfg HealthConfig  `json:"health_cfg"`

	Counters Counters `json:"counters"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b *Bot) BaseAsset() string {
	base, _, _ := strings.Cut(b.Pair, "/")
	return base
}

func (b *Bot) QuoteAsset() string {
	_, quote, _ := strings.Cut(b.Pair, "/")
	return quote
}

// VolumeConfig bounds the volume generator. All notionals are in the
// quote currency.
type VolumeConfig struct {
	DailyTarget float64 `json:"daily_target"`
	MinTrade    float64 `json:"min_trade"`
	MaxTrade    float64 `json:"max_trade"`

	MinInterval time.Duration `json:"min_interval"`
	MaxInterval time.Duration `json:"max_interval"`

	// ImbalanceThreshold is the allowed deviation of the base-asset share
	// of portfolio value from the 50/50 target before the trade side is
	// forced toward the corrective one. 0.2 means act outside 30%..70%.
	ImbalanceThreshold float64 `json:"imbalance_threshold"`
}

// SpreadConfig bounds the market-making quoter.
type SpreadConfig struct {
	HalfSpread    float64 `json:"half_spread"`    // fraction of mid per side
	OrderNotional float64 `json:"order_notional"` // quote currency per quote

	StaleTolerance     float64       `json:"stale_tolerance"` // price drift fraction
	MaxQuoteAge        time.Duration `json:"max_quote_age"`
	MinRefreshInterval time.Duration `json:"min_refresh_interval"`

	// Precision is asset/exchange-specific configuration, not derived.
	PricePrecision  int `json:"price_precision"`
	AmountPrecision int `json:"amount_precision"`

	InventoryTargetRatio float64 `json:"inventory_target_ratio"` // base share of value, usually 0.5
	InventorySkew        float64 `json:"inventory_skew"`         // size adjustment fraction per side
}

// HealthConfig carries per-bot liveness windows. Pairs differ wildly in
// natural trade frequency, so these are configuration, not constants.
type HealthConfig struct {
	FreshWithin time.Duration `json:"fresh_within"` // activity newer than this => healthy
	StaleWithin time.Duration `json:"stale_within"` // newer than this => stale, older => stopped
}

// Counters are the runtime tallies mutated by the runner each cycle.
// DayStart marks the UTC day the daily tallies belong to.
type Counters struct {
	VolumeToday float64    `json:"volume_today"`
	TradesToday int64      `json:"trades_today"`
	DayStart    time.Time  `json:"day_start"`
	LastTradeAt *time.Time `json:"last_trade_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
}
