package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bot_fleet/internal/models"
	"bot_fleet/internal/modules/botstore/service"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
)

const botColumns = `id, tenant_id, exchange, pair, strategy, status,
	volume_cfg, spread_cfg, health_cfg,
	volume_today, trades_today, day_start, last_trade_at, last_error,
	created_at, updated_at`

func (s *Store) List(ctx context.Context) (bots []models.Bot, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.List: %w", err)
		}
	}()

	rows, err := s.db.Conn().Query(ctx,
		`SELECT `+botColumns+` FROM bots ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBots(rows)
}

func (s *Store) ListByStatus(ctx context.Context, status models.ReportedStatus) (bots []models.Bot, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.ListByStatus: %w", err)
		}
	}()

	rows, err := s.db.Conn().Query(ctx,
		`SELECT `+botColumns+` FROM bots WHERE status = $1 ORDER BY id`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanBots(rows)
}

func (s *Store) Get(ctx context.Context, id int64) (bot models.Bot, err error) {
	defer func() {
		if err != nil && !errors.Is(err, service.ErrNotFound) {
			err = fmt.Errorf("pg.Get: %w", err)
		}
	}()

	row := s.db.Conn().QueryRow(ctx,
		`SELECT `+botColumns+` FROM bots WHERE id = $1`, id)
	bot, err = scanBot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Bot{}, service.ErrNotFound
	}
	return bot, err
}

func (s *Store) Create(ctx context.Context, bot *models.Bot) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Create: %w", err)
		}
	}()

	volumeCfg, spreadCfg, healthCfg, err := marshalConfigs(bot)
	if err != nil {
		return err
	}

	return s.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctxTx,
			`INSERT INTO bots (tenant_id, exchange, pair, strategy, status,
				volume_cfg, spread_cfg, health_cfg,
				volume_today, trades_today, day_start, last_error,
				created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now(),now())
			 RETURNING id`,
			bot.TenantID, bot.Exchange, bot.Pair, string(bot.Strategy), string(bot.Status),
			volumeCfg, spreadCfg, healthCfg,
			bot.Counters.VolumeToday, bot.Counters.TradesToday,
			bot.Counters.DayStart, bot.Counters.LastError,
		).Scan(&bot.ID)
	})
}

func (s *Store) SetStatus(ctx context.Context, id int64, status models.ReportedStatus) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.SetStatus: %w", err)
		}
	}()

	tag, err := s.db.Conn().Exec(ctx,
		`UPDATE bots SET status = $2, updated_at = now() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateCounters(ctx context.Context, id int64, c models.Counters) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.UpdateCounters: %w", err)
		}
	}()

	tag, err := s.db.Conn().Exec(ctx,
		`UPDATE bots
		 SET volume_today = $2, trades_today = $3, day_start = $4,
			 last_trade_at = $5, last_error = $6, updated_at = now()
		 WHERE id = $1`,
		id, c.VolumeToday, c.TradesToday, c.DayStart, c.LastTradeAt, c.LastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound
	}
	return nil
}

func (s *Store) SetLastError(ctx context.Context, id int64, msg string) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.SetLastError: %w", err)
		}
	}()

	tag, err := s.db.Conn().Exec(ctx,
		`UPDATE bots SET last_error = $2, updated_at = now() WHERE id = $1`,
		id, msg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return service.ErrNotFound
	}
	return nil
}

func marshalConfigs(bot *models.Bot) (volumeCfg, spreadCfg, healthCfg []byte, err error) {
	if bot.VolumeCfg != nil {
		if volumeCfg, err = sonic.Marshal(bot.VolumeCfg); err != nil {
			return nil, nil, nil, err
		}
	}
	if bot.SpreadCfg != nil {
		if spreadCfg, err = sonic.Marshal(bot.SpreadCfg); err != nil {
			return nil, nil, nil, err
		}
	}
	if healthCfg, err = sonic.Marshal(bot.HealthCfg); err != nil {
		return nil, nil, nil, err
	}
	return volumeCfg, spreadCfg, healthCfg, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBot(row rowScanner) (models.Bot, error) {
	var (
		bot       models.Bot
		strategy  string
		status    string
		volumeCfg []byte
		spreadCfg []byte
		healthCfg []byte
		lastTrade *time.Time
		lastError string
		dayStart  time.Time
		volToday  float64
		trdsToday int64
	)
	err := row.Scan(
		&bot.ID, &bot.TenantID, &bot.Exchange, &bot.Pair, &strategy, &status,
		&volumeCfg, &spreadCfg, &healthCfg,
		&volToday, &trdsToday, &dayStart, &lastTrade, &lastError,
		&bot.CreatedAt, &bot.UpdatedAt,
	)
	if err != nil {
		return models.Bot{}, err
	}

	bot.Strategy = models.StrategyKind(strategy)
	bot.Status = models.ReportedStatus(status)
	bot.Counters = models.Counters{
		VolumeToday: volToday,
		TradesToday: trdsToday,
		DayStart:    dayStart,
		LastTradeAt: lastTrade,
		LastError:   lastError,
	}

	if len(volumeCfg) > 0 {
		bot.VolumeCfg = &models.VolumeConfig{}
		if err := sonic.Unmarshal(volumeCfg, bot.VolumeCfg); err != nil {
			return models.Bot{}, err
		}
	}
	if len(spreadCfg) > 0 {
		bot.SpreadCfg = &models.SpreadConfig{}
		if err := sonic.Unmarshal(spreadCfg, bot.SpreadCfg); err != nil {
			return models.Bot{}, err
		}
	}
	if len(healthCfg) > 0 {
		if err := sonic.Unmarshal(healthCfg, &bot.HealthCfg); err != nil {
			return models.Bot{}, err
		}
	}
	return bot, nil
}

func scanBots(rows pgx.Rows) ([]models.Bot, error) {
	var out []models.Bot
	for rows.Next() {
		bot, err := scanBot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, bot)
	}
	return out, rows.Err()
}
