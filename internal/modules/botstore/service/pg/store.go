package pg

import (
	"bot_fleet/pkg/db"
)

// Store persists the bot registry in postgres. Queries target the tables
// bots, trade_records, health_status and health_log; schema and migrations
// are managed outside this repo.
type Store struct {
	db *db.PgTxManager
}

// NewStore instance
func NewStore(txm *db.PgTxManager) *Store {
	return &Store{db: txm}
}
