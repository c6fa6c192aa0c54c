package service

import (
	"context"
	"sync"
	"time"

	"bot_fleet/internal/models"
)

// Memory is the dev/test fallback when redis is not configured. Entries
// expire lazily on read, mirroring the redis TTL behavior.
type Memory struct {
	mu   sync.RWMutex
	ttl  time.Duration
	now  func() time.Time
	data map[int64]models.Heartbeat
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &Memory{
		ttl:  ttl,
		now:  time.Now,
		data: make(map[int64]models.Heartbeat),
	}
}

// WithNow overrides the clock, for tests.
func (m *Memory) WithNow(now func() time.Time) *Memory {
	if now != nil {
		m.now = now
	}
	return m
}

func (m *Memory) Record(_ context.Context, hb models.Heartbeat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[hb.BotID] = hb
	return nil
}

func (m *Memory) Latest(_ context.Context, botID int64) (*models.Heartbeat, error) {
	m.mu.RLock()
	hb, ok := m.data[botID]
	m.mu.RUnlock()

	if !ok {
		return nil, nil
	}
	if m.now().Sub(hb.At) > m.ttl {
		m.mu.Lock()
		delete(m.data, botID)
		m.mu.Unlock()
		return nil, nil
	}
	out := hb
	return &out, nil
}
