package service

import (
	"context"

	"bot_fleet/internal/models"
)

// Store keeps the freshest heartbeat per bot. A heartbeat is liveness
// evidence pushed by an externally running bot process; the monitor treats
// a sufficiently recent one the same as trade history.
type Store interface {
	Record(ctx context.Context, hb models.Heartbeat) error
	// Latest returns the newest heartbeat for the bot, or nil when none is
	// stored (never seen, or expired).
	Latest(ctx context.Context, botID int64) (*models.Heartbeat, error)
}
