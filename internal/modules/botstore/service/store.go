package service

import (
	"context"
	"errors"
	"time"

	"bot_fleet/internal/models"
)

var ErrNotFound = errors.New("bot not found")

// Store is the bot registry the runner and the health monitor share: bot
// rows with reported status and configuration, runtime counters, the trade
// ledger and the health state plus its audit log.
//
// Reported status (operator intent) and health state (observed fact) are
// written by different actors and must never be folded into one field.
type Store interface {
	List(ctx context.Context) ([]models.Bot, error)
	ListByStatus(ctx context.Context, status models.ReportedStatus) ([]models.Bot, error)
	Get(ctx context.Context, id int64) (models.Bot, error)
	Create(ctx context.Context, bot *models.Bot) error
	SetStatus(ctx context.Context, id int64, status models.ReportedStatus) error

	// UpdateCounters replaces the runtime tallies; SetLastError touches only
	// the error text so a failing cycle cannot clobber counters written by
	// a concurrent trade.
	UpdateCounters(ctx context.Context, id int64, c models.Counters) error
	SetLastError(ctx context.Context, id int64, msg string) error

	// RecordTrade appends the trade and applies the new counters in one
	// transaction: a fill is never visible without its tallies.
	RecordTrade(ctx context.Context, rec models.TradeRecord, c models.Counters) error
	// TradesSince returns the bot's fills executed after since, oldest first.
	TradesSince(ctx context.Context, botID int64, since time.Time) ([]models.TradeRecord, error)

	// HealthFor returns the latest verdict, or an unknown-state zero value
	// when the bot was never evaluated.
	HealthFor(ctx context.Context, botID int64) (models.HealthStatus, error)
	SaveHealth(ctx context.Context, st models.HealthStatus) error
	AppendHealthLog(ctx context.Context, e models.HealthLogEntry) error
	// HealthLog returns the bot's transitions, newest first.
	HealthLog(ctx context.Context, botID int64, limit int) ([]models.HealthLogEntry, error)
}
