package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"bot_fleet/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	configFilePathENV = "CONFIG_FILE"
	databaseDSNENV    = "DATABASE_DSN"
	redisAddrENV      = "REDIS_ADDR"
	redisPasswordENV  = "REDIS_PASSWORD"
	redisDBENV        = "REDIS_DB"
	kafkaBrokersENV   = "KAFKA_BROKERS"
	kafkaTopicENV     = "KAFKA_TOPIC"
	tokenTelegramENV  = "TELEGRAM_TOKEN"
	chatTelegramENV   = "TELEGRAM_CHAT_ID"
)

// Config ...
type Config struct {
	Service struct {
		Name string `yaml:"name"`
	} `yaml:"service"`

	Runner struct {
		TickSeconds         int `yaml:"tick_seconds"`
		CycleTimeoutSeconds int `yaml:"cycle_timeout_seconds"`
	} `yaml:"runner"`

	Monitor struct {
		TickSeconds         int `yaml:"tick_seconds"`
		FreshWithinMinutes  int `yaml:"fresh_within_minutes"`
		StaleWithinMinutes  int `yaml:"stale_within_minutes"`
		HeartbeatTTLMinutes int `yaml:"heartbeat_ttl_minutes"`
	} `yaml:"monitor"`

	Gateway struct {
		CallTimeoutSeconds int `yaml:"call_timeout_seconds"`
	} `yaml:"gateway"`

	// Paper — встроенная бумажная биржа для dev-режима и тестов.
	Paper struct {
		StartPrices  map[string]float64 `yaml:"start_prices"` // pair -> starting mid
		BaseBalance  float64            `yaml:"base_balance"`
		QuoteBalance float64            `yaml:"quote_balance"`
	} `yaml:"paper"`

	Ops struct {
		Addr               string `yaml:"addr"`
		ReadTimeoutSeconds int    `yaml:"read_timeout_seconds"`
	} `yaml:"ops"`

	// Секреты приходят только из окружения, не из yaml.
	DB       string
	Redis    RedisConfig
	Kafka    KafkaConfig
	Telegram TelegramConfig

	Tracing struct {
		Enabled bool   `yaml:"enabled"`
		Host    string `yaml:"host"`
		Port    int    `yaml:"port"`
	} `yaml:"tracing"`

	// Bots seeds the in-memory registry in dev mode (no DATABASE_DSN).
	Bots []SeedBot `yaml:"bots"`
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type TelegramConfig struct {
	Token  string
	ChatID int64
}

func (c *Config) RunnerTick() time.Duration {
	return time.Duration(c.Runner.TickSeconds) * time.Second
}

func (c *Config) CycleTimeout() time.Duration {
	return time.Duration(c.Runner.CycleTimeoutSeconds) * time.Second
}

func (c *Config) MonitorTick() time.Duration {
	return time.Duration(c.Monitor.TickSeconds) * time.Second
}

func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Gateway.CallTimeoutSeconds) * time.Second
}

func (c *Config) HeartbeatTTL() time.Duration {
	return time.Duration(c.Monitor.HeartbeatTTLMinutes) * time.Minute
}

// DefaultHealthConfig is used for bots whose per-bot windows are unset.
func (c *Config) DefaultHealthConfig() models.HealthConfig {
	return models.HealthConfig{
		FreshWithin: time.Duration(c.Monitor.FreshWithinMinutes) * time.Minute,
		StaleWithin: time.Duration(c.Monitor.StaleWithinMinutes) * time.Minute,
	}
}

// SeedBot is one dev-mode bot described in yaml. Interval fields are in
// seconds/minutes; ToModel converts them into the runtime model.
type SeedBot struct {
	ID       int64  `yaml:"id"`
	TenantID int64  `yaml:"tenant_id"`
	Pair     string `yaml:"pair"`
	Exchange string `yaml:"exchange"`
	Strategy string `yaml:"strategy"`
	Status   string `yaml:"status"`

	Volume *struct {
		DailyTarget        float64 `yaml:"daily_target"`
		MinTrade           float64 `yaml:"min_trade"`
		MaxTrade           float64 `yaml:"max_trade"`
		MinIntervalSeconds int     `yaml:"min_interval_seconds"`
		MaxIntervalSeconds int     `yaml:"max_interval_seconds"`
		ImbalanceThreshold float64 `yaml:"imbalance_threshold"`
	} `yaml:"volume"`

	Spread *struct {
		HalfSpread                float64 `yaml:"half_spread"`
		OrderNotional             float64 `yaml:"order_notional"`
		StaleTolerance            float64 `yaml:"stale_tolerance"`
		MaxQuoteAgeSeconds        int     `yaml:"max_quote_age_seconds"`
		MinRefreshIntervalSeconds int     `yaml:"min_refresh_interval_seconds"`
		PricePrecision            int     `yaml:"price_precision"`
		AmountPrecision           int     `yaml:"amount_precision"`
		InventoryTargetRatio      float64 `yaml:"inventory_target_ratio"`
		InventorySkew             float64 `yaml:"inventory_skew"`
	} `yaml:"spread"`

	Health *struct {
		FreshWithinMinutes int `yaml:"fresh_within_minutes"`
		StaleWithinMinutes int `yaml:"stale_within_minutes"`
	} `yaml:"health"`
}

// ToModel converts a seed entry into a bot row, falling back to the
// monitor-wide health windows when the bot carries none.
func (s SeedBot) ToModel(defaults models.HealthConfig, now time.Time) models.Bot {
	bot := models.Bot{
		ID:        s.ID,
		TenantID:  s.TenantID,
		Pair:      s.Pair,
		Exchange:  s.Exchange,
		Strategy:  models.StrategyKind(s.Strategy),
		Status:    models.StatusRunning,
		HealthCfg: defaults,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if s.Status != "" {
		bot.Status = models.ReportedStatus(s.Status)
	}
	if s.Volume != nil {
		bot.VolumeCfg = &models.VolumeConfig{
			DailyTarget:        s.Volume.DailyTarget,
			MinTrade:           s.Volume.MinTrade,
			MaxTrade:           s.Volume.MaxTrade,
			MinInterval:        time.Duration(s.Volume.MinIntervalSeconds) * time.Second,
			MaxInterval:        time.Duration(s.Volume.MaxIntervalSeconds) * time.Second,
			ImbalanceThreshold: s.Volume.ImbalanceThreshold,
		}
	}
	if s.Spread != nil {
		bot.SpreadCfg = &models.SpreadConfig{
			HalfSpread:           s.Spread.HalfSpread,
			OrderNotional:        s.Spread.OrderNotional,
			StaleTolerance:       s.Spread.StaleTolerance,
			MaxQuoteAge:          time.Duration(s.Spread.MaxQuoteAgeSeconds) * time.Second,
			MinRefreshInterval:   time.Duration(s.Spread.MinRefreshIntervalSeconds) * time.Second,
			PricePrecision:       s.Spread.PricePrecision,
			AmountPrecision:      s.Spread.AmountPrecision,
			InventoryTargetRatio: s.Spread.InventoryTargetRatio,
			InventorySkew:        s.Spread.InventorySkew,
		}
		if bot.SpreadCfg.StaleTolerance <= 0 {
			bot.SpreadCfg.StaleTolerance = 0.005
		}
		if bot.SpreadCfg.InventoryTargetRatio <= 0 {
			bot.SpreadCfg.InventoryTargetRatio = 0.5
		}
	}
	if s.Health != nil {
		bot.HealthCfg = models.HealthConfig{
			FreshWithin: time.Duration(s.Health.FreshWithinMinutes) * time.Minute,
			StaleWithin: time.Duration(s.Health.StaleWithinMinutes) * time.Minute,
		}
	}
	return bot
}

func NewConfig() (*Config, error) {
	// .env удобен локально; в проде переменные приходят из окружения.
	_ = godotenv.Load()

	configFileName := os.Getenv(configFilePathENV)
	if configFileName == "" {
		configFileName = "values_local.yaml"
	}
	file, err := os.Open("configs/" + configFileName)
	if err != nil {
		log.Fatalf("Failed to open config file: %v", err)
	}

	defer func() {
		_ = file.Close()
	}()

	decoder := yaml.NewDecoder(file)
	config := Config{}
	config.Service.Name = "fleetd"
	config.Runner.TickSeconds = 10
	config.Runner.CycleTimeoutSeconds = 30
	config.Monitor.TickSeconds = 300
	config.Monitor.FreshWithinMinutes = 30
	config.Monitor.StaleWithinMinutes = 120
	config.Monitor.HeartbeatTTLMinutes = 240
	config.Gateway.CallTimeoutSeconds = 10
	config.Paper.BaseBalance = 10
	config.Paper.QuoteBalance = 100_000
	config.Ops.Addr = getenvDefault("OPS_ADDR", ":8080")
	config.Ops.ReadTimeoutSeconds = 5
	config.Tracing.Host = getenvDefault("JAEGER_HOST", "127.0.0.1")
	config.Tracing.Port = intFromEnv("JAEGER_PORT", 6831)

	err = decoder.Decode(&config)
	if err != nil {
		log.Fatalf("Failed to decode config file: %v", err)
	}

	config.DB = os.Getenv(databaseDSNENV)

	config.Redis = RedisConfig{
		Addr:     os.Getenv(redisAddrENV),
		Password: os.Getenv(redisPasswordENV),
		DB:       intFromEnv(redisDBENV, 0),
	}

	if brokers := os.Getenv(kafkaBrokersENV); brokers != "" {
		config.Kafka.Brokers = splitNonEmpty(brokers, ",")
	}
	config.Kafka.Topic = getenvDefault(kafkaTopicENV, "fleet.trades")

	config.Telegram = TelegramConfig{
		Token:  os.Getenv(tokenTelegramENV),
		ChatID: int64FromEnv(chatTelegramENV, 0),
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	if c.Runner.TickSeconds <= 0 {
		return fmt.Errorf("config: runner.tick_seconds must be positive")
	}
	if c.Monitor.TickSeconds <= 0 {
		return fmt.Errorf("config: monitor.tick_seconds must be positive")
	}
	if c.Monitor.StaleWithinMinutes < c.Monitor.FreshWithinMinutes {
		return fmt.Errorf("config: monitor.stale_within_minutes must not be below fresh_within_minutes")
	}
	for i := range c.Bots {
		b := &c.Bots[i]
		switch models.StrategyKind(b.Strategy) {
		case models.StrategyVolume:
			if b.Volume == nil {
				return fmt.Errorf("config: bot %d is volume but has no volume section", b.ID)
			}
			if b.Volume.MinTrade <= 0 || b.Volume.MaxTrade < b.Volume.MinTrade {
				return fmt.Errorf("config: bot %d has invalid trade bounds", b.ID)
			}
		case models.StrategySpread:
			if b.Spread == nil {
				return fmt.Errorf("config: bot %d is spread but has no spread section", b.ID)
			}
		default:
			return fmt.Errorf("config: bot %d has unknown strategy %q", b.ID, b.Strategy)
		}
	}
	return nil
}

func splitNonEmpty(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func int64FromEnv(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
