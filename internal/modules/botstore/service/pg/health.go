package pg

import (
	"context"
	"errors"
	"fmt"

	"bot_fleet/internal/models"

	"github.com/jackc/pgx/v5"
)

func (s *Store) HealthFor(ctx context.Context, botID int64) (st models.HealthStatus, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.HealthFor: %w", err)
		}
	}()

	var state string
	row := s.db.Conn().QueryRow(ctx,
		`SELECT bot_id, state, reason, checked_at, last_activity_at
		 FROM health_status WHERE bot_id = $1`, botID)
	err = row.Scan(&st.BotID, &state, &st.Reason, &st.CheckedAt, &st.LastActivityAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.HealthStatus{BotID: botID, State: models.HealthUnknown}, nil
	}
	if err != nil {
		return models.HealthStatus{}, err
	}
	st.State = models.HealthState(state)
	return st, nil
}

func (s *Store) SaveHealth(ctx context.Context, st models.HealthStatus) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.SaveHealth: %w", err)
		}
	}()

	_, err = s.db.Conn().Exec(ctx,
		`INSERT INTO health_status (bot_id, state, reason, checked_at, last_activity_at)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (bot_id) DO UPDATE
		 SET state = EXCLUDED.state, reason = EXCLUDED.reason,
			 checked_at = EXCLUDED.checked_at, last_activity_at = EXCLUDED.last_activity_at`,
		st.BotID, string(st.State), st.Reason, st.CheckedAt, st.LastActivityAt)
	return err
}

func (s *Store) AppendHealthLog(ctx context.Context, e models.HealthLogEntry) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.AppendHealthLog: %w", err)
		}
	}()

	_, err = s.db.Conn().Exec(ctx,
		`INSERT INTO health_log (bot_id, from_state, to_state, reason, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		e.BotID, string(e.From), string(e.To), e.Reason, e.CreatedAt)
	return err
}

func (s *Store) HealthLog(ctx context.Context, botID int64, limit int) (entries []models.HealthLogEntry, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.HealthLog: %w", err)
		}
	}()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Conn().Query(ctx,
		`SELECT id, bot_id, from_state, to_state, reason, created_at
		 FROM health_log WHERE bot_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`,
		botID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e    models.HealthLogEntry
			from string
			to   string
		)
		if err := rows.Scan(&e.ID, &e.BotID, &from, &to, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.From = models.HealthState(from)
		e.To = models.HealthState(to)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
