package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leoodz/fable/internal/domain"
)

// RedisRebuildQueue реализует очередь задач пересборки на базе Redis lists.
type RedisRebuildQueue struct {
	client *redis.Client
	key    string
}

var _ domain.RebuildQueue = (*RedisRebuildQueue)(nil)

// NewRedisRebuildQueue создаёт очередь по указанному ключу.
func NewRedisRebuildQueue(client *redis.Client, key string) *RedisRebuildQueue {
	return &RedisRebuildQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisRebuildQueue) Enqueue(ctx context.Context, job domain.RebuildJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Pop блокирующе читает задачу из очереди.
func (q *RedisRebuildQueue) Pop(ctx context.Context) (domain.RebuildJob, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.RebuildJob{}, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.RebuildJob{}, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.RebuildJob{}, err
		}
		if len(res) != 2 {
			return domain.RebuildJob{}, errors.New("redis queue: unexpected response")
		}
		var job domain.RebuildJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return domain.RebuildJob{}, fmt.Errorf("decode job: %w", err)
		}
		return job, nil
	}
}
