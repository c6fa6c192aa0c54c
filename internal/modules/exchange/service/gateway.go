package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"bot_fleet/internal/models"
)

// Gateway is the single capability interface strategies talk to. Per-exchange
// behavioral differences are resolved once, when the registry constructs the
// gateway, never by branching on the exchange name inside strategy logic.
//
// Every method takes a context; callers wrap each call in its own deadline so
// one unresponsive exchange cannot stall other bots.
type Gateway interface {
	FetchBalance(ctx context.Context) (map[string]models.Balance, error)
	FetchOrderBook(ctx context.Context, pair string, depth int) (models.OrderBook, error)
	FetchTicker(ctx context.Context, pair string) (models.Ticker, error)
	CreateMarketOrder(ctx context.Context, pair string, side models.Side, amount float64) (models.FillResult, error)
	CreateLimitOrder(ctx context.Context, pair string, side models.Side, amount, price float64) (string, error)
	CancelOrder(ctx context.Context, pair, orderID string) error
	FetchOpenOrders(ctx context.Context, pair string) ([]models.OpenOrder, error)
	FetchMyTrades(ctx context.Context, pair string, since time.Time) ([]models.PastTrade, error)
}

// Credentials is one resolved API key set. Storage and rotation live behind
// the CredentialSource; strategies never see raw keys.
type Credentials struct {
	APIKey     string
	APISecret  string
	Passphrase string
}

func (c Credentials) Empty() bool {
	return c.APIKey == "" && c.APISecret == ""
}

// CredentialSource resolves the key set for an exchange. The in-repo source
// reads the environment; a vault-backed source plugs in the same way.
type CredentialSource interface {
	For(exchange string) (Credentials, error)
}

// EnvCredentialSource reads FLEET_CRED_<EXCHANGE>_KEY/SECRET/PASSPHRASE.
// Missing variables yield empty credentials, not an error: whether empty
// credentials are acceptable is the gateway factory's call (paper needs
// none, a real venue refuses).
type EnvCredentialSource struct{}

func NewEnvCredentialSource() *EnvCredentialSource { return &EnvCredentialSource{} }

func (s *EnvCredentialSource) For(exchange string) (Credentials, error) {
	prefix := fmt.Sprintf("FLEET_CRED_%s_", strings.ToUpper(exchange))
	return Credentials{
		APIKey:     os.Getenv(prefix + "KEY"),
		APISecret:  os.Getenv(prefix + "SECRET"),
		Passphrase: os.Getenv(prefix + "PASSPHRASE"),
	}, nil
}
