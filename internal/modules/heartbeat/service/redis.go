package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bot_fleet/internal/models"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

const keyFormat = "fleet:heartbeat:%d"

// Redis stores one heartbeat per bot with a TTL, so evidence expires on its
// own once it is too old to matter for any health window.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 4 * time.Hour
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Record(ctx context.Context, hb models.Heartbeat) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("heartbeat.Record: %w", err)
		}
	}()

	data, err := sonic.Marshal(hb)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, fmt.Sprintf(keyFormat, hb.BotID), data, r.ttl).Err()
}

func (r *Redis) Latest(ctx context.Context, botID int64) (hb *models.Heartbeat, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("heartbeat.Latest: %w", err)
		}
	}()

	data, err := r.client.Get(ctx, fmt.Sprintf(keyFormat, botID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	hb = &models.Heartbeat{}
	if err := sonic.Unmarshal(data, hb); err != nil {
		return nil, err
	}
	return hb, nil
}
