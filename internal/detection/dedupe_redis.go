package detection

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupeKeyPrefix = "custodia:detection:"

// RedisDedupe shares the dedupe set across sweeper instances so multiple
// nodes never raise the same incident twice.
type RedisDedupe struct {
	client redis.Cmdable
}

func NewRedisDedupe(client redis.Cmdable) *RedisDedupe {
	return &RedisDedupe{client: client}
}

func (d *RedisDedupe) MarkIfNew(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	fresh, err := d.client.SetNX(ctx, dedupeKeyPrefix+key, "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe setnx: %w", err)
	}
	return fresh, nil
}
