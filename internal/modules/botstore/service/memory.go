package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"bot_fleet/internal/models"
)

// Memory keeps the whole registry in process. It backs tests and the dev
// mode without a DATABASE_DSN; the seeded bots come from the yaml config.
type Memory struct {
	mu        sync.RWMutex
	bots      map[int64]models.Bot
	trades    map[int64][]models.TradeRecord
	health    map[int64]models.HealthStatus
	healthLog map[int64][]models.HealthLogEntry

	nextBotID   int64
	nextTradeID int64
	nextLogID   int64
}

func NewMemory() *Memory {
	return &Memory{
		bots:      make(map[int64]models.Bot),
		trades:    make(map[int64][]models.TradeRecord),
		health:    make(map[int64]models.HealthStatus),
		healthLog: make(map[int64][]models.HealthLogEntry),
	}
}

func (m *Memory) List(_ context.Context) ([]models.Bot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Bot, 0, len(m.bots))
	for _, b := range m.bots {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) ListByStatus(_ context.Context, status models.ReportedStatus) ([]models.Bot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Bot, 0, len(m.bots))
	for _, b := range m.bots {
		if b.Status == status {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Get(_ context.Context, id int64) (models.Bot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bots[id]
	if !ok {
		return models.Bot{}, ErrNotFound
	}
	return b, nil
}

func (m *Memory) Create(_ context.Context, bot *models.Bot) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bot.ID == 0 {
		m.nextBotID++
		bot.ID = m.nextBotID
	} else if bot.ID > m.nextBotID {
		m.nextBotID = bot.ID
	}
	m.bots[bot.ID] = *bot
	return nil
}

func (m *Memory) SetStatus(_ context.Context, id int64, status models.ReportedStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bots[id]
	if !ok {
		return ErrNotFound
	}
	b.Status = status
	b.UpdatedAt = time.Now().UTC()
	m.bots[id] = b
	return nil
}

func (m *Memory) UpdateCounters(_ context.Context, id int64, c models.Counters) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bots[id]
	if !ok {
		return ErrNotFound
	}
	b.Counters = c
	b.UpdatedAt = time.Now().UTC()
	m.bots[id] = b
	return nil
}

func (m *Memory) SetLastError(_ context.Context, id int64, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bots[id]
	if !ok {
		return ErrNotFound
	}
	b.Counters.LastError = msg
	b.UpdatedAt = time.Now().UTC()
	m.bots[id] = b
	return nil
}

func (m *Memory) RecordTrade(_ context.Context, rec models.TradeRecord, c models.Counters) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bots[rec.BotID]
	if !ok {
		return ErrNotFound
	}
	m.nextTradeID++
	rec.ID = m.nextTradeID
	m.trades[rec.BotID] = append(m.trades[rec.BotID], rec)

	b.Counters = c
	b.UpdatedAt = time.Now().UTC()
	m.bots[rec.BotID] = b
	return nil
}

func (m *Memory) TradesSince(_ context.Context, botID int64, since time.Time) ([]models.TradeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []models.TradeRecord
	for _, t := range m.trades[botID] {
		if t.ExecutedAt.After(since) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExecutedAt.Before(out[j].ExecutedAt) })
	return out, nil
}

func (m *Memory) HealthFor(_ context.Context, botID int64) (models.HealthStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if st, ok := m.health[botID]; ok {
		return st, nil
	}
	return models.HealthStatus{BotID: botID, State: models.HealthUnknown}, nil
}

func (m *Memory) SaveHealth(_ context.Context, st models.HealthStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.health[st.BotID] = st
	return nil
}

func (m *Memory) AppendHealthLog(_ context.Context, e models.HealthLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextLogID++
	e.ID = m.nextLogID
	m.healthLog[e.BotID] = append(m.healthLog[e.BotID], e)
	return nil
}

func (m *Memory) HealthLog(_ context.Context, botID int64, limit int) ([]models.HealthLogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	log := m.healthLog[botID]
	if limit <= 0 || limit > len(log) {
		limit = len(log)
	}
	out := make([]models.HealthLogEntry, 0, limit)
	for i := len(log) - 1; i >= len(log)-limit; i-- {
		out = append(out, log[i])
	}
	return out, nil
}
