package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/leoodz/fable/internal/domain"
)

// poolKeyPrefix — пространство ключей предрасчитанных пулов.
const poolKeyPrefix = "fable:pool:"

// RedisBracketCache хранит предрасчитанные пулы диапазонов в Redis-хэшах:
// ключ — JSON диапазона, поля — корзины ALL/MAIN/SUPPORTING/BACKGROUND.
type RedisBracketCache struct {
	client *redis.Client
}

var _ domain.BracketCache = (*RedisBracketCache)(nil)

// NewRedisBracketCache создаёт хранилище пулов.
func NewRedisBracketCache(client *redis.Client) *RedisBracketCache {
	return &RedisBracketCache{client: client}
}

// Pool возвращает корзину одного диапазона. Отсутствие ключа — пустой пул, не
// ошибка: индексер мог ещё не отработать.
func (c *RedisBracketCache) Pool(ctx context.Context, bracket domain.Bracket, bucket domain.PoolBucket) ([]domain.PoolEntry, error) {
	raw, err := c.client.HGet(ctx, poolKeyPrefix+bracket.Key(), string(bucket)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("hget pool: %w", err)
	}
	var entries []domain.PoolEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("decode pool: %w", err)
	}
	return entries, nil
}

// Store атомарно заменяет все корзины диапазона.
func (c *RedisBracketCache) Store(ctx context.Context, bracket domain.Bracket, buckets map[domain.PoolBucket][]domain.PoolEntry) error {
	fields := make(map[string]any, len(buckets))
	for bucket, entries := range buckets {
		raw, err := json.Marshal(entries)
		if err != nil {
			return fmt.Errorf("encode pool: %w", err)
		}
		fields[string(bucket)] = raw
	}

	pipe := c.client.TxPipeline()
	key := poolKeyPrefix + bracket.Key()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, fields)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store pool: %w", err)
	}
	return nil
}
