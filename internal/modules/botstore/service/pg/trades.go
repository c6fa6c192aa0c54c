package pg

import (
	"context"
	"fmt"
	"time"

	"bot_fleet/internal/models"
	"bot_fleet/internal/modules/botstore/service"

	"github.com/jackc/pgx/v5"
)

func (s *Store) RecordTrade(ctx context.Context, rec models.TradeRecord, c models.Counters) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.RecordTrade: %w", err)
		}
	}()

	// Заносим сделку и счётчики одной транзакцией: fill без tally не бывает.
	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx,
			`INSERT INTO trade_records (bot_id, side, amount, price, notional, order_id, executed_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			rec.BotID, string(rec.Side), rec.Amount, rec.Price, rec.Notional, rec.OrderID, rec.ExecutedAt)
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctxTx,
			`UPDATE bots
			 SET volume_today = $2, trades_today = $3, day_start = $4,
				 last_trade_at = $5, last_error = $6, updated_at = now()
			 WHERE id = $1`,
			rec.BotID, c.VolumeToday, c.TradesToday, c.DayStart, c.LastTradeAt, c.LastError)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return service.ErrNotFound
		}
		return nil
	})
}

func (s *Store) TradesSince(ctx context.Context, botID int64, since time.Time) (trades []models.TradeRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.TradesSince: %w", err)
		}
	}()

	rows, err := s.db.Conn().Query(ctx,
		`SELECT id, bot_id, side, amount, price, notional, order_id, executed_at
		 FROM trade_records
		 WHERE bot_id = $1 AND executed_at > $2
		 ORDER BY executed_at`,
		botID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec  models.TradeRecord
			side string
		)
		if err := rows.Scan(&rec.ID, &rec.BotID, &side, &rec.Amount, &rec.Price,
			&rec.Notional, &rec.OrderID, &rec.ExecutedAt); err != nil {
			return nil, err
		}
		rec.Side = models.Side(side)
		trades = append(trades, rec)
	}
	return trades, rows.Err()
}
