package cache

import (
	"context"
	"time"

	"github.com/dakael7/gravitylabs/internal/repository"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	ConversationListTTL = 2 * time.Minute
	conversationListKey = "support:convlist"
)

// ConversationListCache caches the staff conversation list. Any feed event
// invalidates it, so the TTL only bounds staleness when invalidation fails.
type ConversationListCache struct {
	redis *RedisCache
}

func NewConversationListCache(redis *RedisCache) *ConversationListCache {
	return &ConversationListCache{redis: redis}
}

func (c *ConversationListCache) Get(ctx context.Context) ([]repository.ConversationRow, bool) {
	if c == nil || c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, conversationListKey)
	if err != nil || data == nil {
		return nil, false
	}

	var rows []repository.ConversationRow
	if err := msgpack.Unmarshal(data, &rows); err != nil {
		return nil, false
	}
	return rows, true
}

func (c *ConversationListCache) Set(ctx context.Context, rows []repository.ConversationRow) error {
	if c == nil || c.redis == nil {
		return nil
	}
	data, err := msgpack.Marshal(rows)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, conversationListKey, data, ConversationListTTL)
}

func (c *ConversationListCache) Invalidate(ctx context.Context) error {
	if c == nil || c.redis == nil {
		return nil
	}
	return c.redis.Delete(ctx, conversationListKey)
}
