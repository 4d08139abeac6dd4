package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"content-autopilot/internal/domain"
)

// RedisRetrainQueue реализует очередь задач переобучения на базе Redis lists.
type RedisRetrainQueue struct {
	client *redis.Client
	key    string
}

// NewRedisRetrainQueue создаёт очередь по указанному ключу.
func NewRedisRetrainQueue(client *redis.Client, key string) *RedisRetrainQueue {
	return &RedisRetrainQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisRetrainQueue) Enqueue(ctx context.Context, job domain.RetrainJob) error {
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
func (q *RedisRetrainQueue) Pop(ctx context.Context) (domain.RetrainJob, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.RetrainJob{}, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.RetrainJob{}, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.RetrainJob{}, err
		}
		if len(res) != 2 {
			return domain.RetrainJob{}, errors.New("redis queue: unexpected response")
		}
		var job domain.RetrainJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return domain.RetrainJob{}, fmt.Errorf("decode job: %w", err)
		}
		return job, nil
	}
}
