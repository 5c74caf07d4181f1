package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DraftCache holds pending booking drafts. It is lossy: a draft can vanish at
// any time and callers must treat that as ErrDraftExpiredOrMissing.
type DraftCache interface {
	Put(ctx context.Context, key string, d Draft, ttl time.Duration) error
	Get(ctx context.Context, key string) (*Draft, error)
	Remove(ctx context.Context, key string) error
}

type redisDraftCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisDraftCache(client redis.UniversalClient) DraftCache {
	return &redisDraftCache{client: client, prefix: "booking:draft:"}
}

func (c *redisDraftCache) Put(ctx context.Context, key string, d Draft, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: draft ttl must be positive", ErrInvalidInput)
	}
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("store draft: %w", err)
	}
	return nil
}

func (c *redisDraftCache) Get(ctx context.Context, key string) (*Draft, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrDraftExpiredOrMissing
	}
	if err != nil {
		return nil, fmt.Errorf("load draft: %w", err)
	}
	var d Draft
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode draft %s: %w", key, err)
	}
	return &d, nil
}

func (c *redisDraftCache) Remove(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("remove draft: %w", err)
	}
	return nil
}
