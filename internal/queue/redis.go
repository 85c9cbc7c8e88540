package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"log/slog"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const (
	keyJobs       = "syntra:jobs"
	keyDelayed    = "syntra:jobs:delayed"
	keyDead       = "syntra:jobs:dead"
	keyIdemPrefix = "syntra:jobs:idem:"
	keyProcessing = "syntra:jobs:processing:"
	keyRateLimit  = "syntra:jobs:ratelimit"

	idempotencyTTL = 24 * time.Hour
	opTimeout      = 2 * time.Second
)

// redisCmds is the slice of the go-redis client the queue and its worker
// issue commands through.
type redisCmds interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LRem(ctx context.Context, key string, count int64, value interface{}) *redis.IntCmd
	BRPopLPush(ctx context.Context, source, destination string, timeout time.Duration) *redis.StringCmd
	RPopLPush(ctx context.Context, source, destination string) *redis.StringCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	Close() error
}

// RedisQueue implements Queue on a Redis list with an idempotency-key
// dedupe set and a sorted set of delayed retries.
type RedisQueue struct {
	client redisCmds
	logger *slog.Logger
}

// NewRedisQueue connects to Redis and verifies reachability.
func NewRedisQueue(addr, password string, db int, logger *slog.Logger) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect queue redis: %w", err)
	}
	return &RedisQueue{client: client, logger: logger}, nil
}

// Close releases the Redis connection.
func (q *RedisQueue) Close() error {
	return q.client.Close()
}

// Enqueue marshals the payload and pushes a job. A job whose idempotency
// key was already seen within the dedupe window is silently dropped.
func (q *RedisQueue) Enqueue(ctx context.Context, name, idempotencyKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", name, err)
	}
	job := Job{
		ID:             uuid.NewString(),
		Name:           name,
		IdempotencyKey: idempotencyKey,
		Payload:        body,
		Attempt:        0,
		MaxAttempts:    DefaultMaxAttempts,
		EnqueuedAt:     time.Now().UTC(),
	}

	if idempotencyKey != "" {
		ok, err := q.client.SetNX(ctx, keyIdemPrefix+idempotencyKey, job.ID, idempotencyTTL).Result()
		if err != nil {
			return fmt.Errorf("reserve idempotency key: %w", err)
		}
		if !ok {
			if q.logger != nil {
				q.logger.Info("duplicate job dropped", "job", name, "idempotency_key", idempotencyKey)
			}
			return nil
		}
	}
	if err := q.push(ctx, job); err != nil {
		// Release the reservation so a retried producer is not dropped
		// as a duplicate of a job that was never queued.
		if idempotencyKey != "" {
			if delErr := q.client.Del(ctx, keyIdemPrefix+idempotencyKey).Err(); delErr != nil && q.logger != nil {
				q.logger.Error("release idempotency key failed", "idempotency_key", idempotencyKey, "error", delErr)
			}
		}
		return err
	}
	return nil
}

func (q *RedisQueue) push(ctx context.Context, job Job) error {
	envelope, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job envelope: %w", err)
	}
	if err := q.client.LPush(ctx, keyJobs, envelope).Err(); err != nil {
		return fmt.Errorf("enqueue %s job: %w", job.Name, err)
	}
	return nil
}

// retryLater schedules the job for redelivery after the backoff delay.
func (q *RedisQueue) retryLater(ctx context.Context, job Job, delay time.Duration) error {
	envelope, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job envelope: %w", err)
	}
	score := float64(time.Now().Add(delay).UnixMilli())
	if err := q.client.ZAdd(ctx, keyDelayed, redis.Z{Score: score, Member: envelope}).Err(); err != nil {
		return fmt.Errorf("schedule retry: %w", err)
	}
	return nil
}

// deadLetter parks a job that exhausted its attempts.
func (q *RedisQueue) deadLetter(ctx context.Context, job Job) error {
	envelope, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job envelope: %w", err)
	}
	if err := q.client.LPush(ctx, keyDead, envelope).Err(); err != nil {
		return fmt.Errorf("dead-letter job: %w", err)
	}
	return nil
}

// promoteDue moves delayed jobs whose time has come back onto the main list.
func (q *RedisQueue) promoteDue(ctx context.Context, now time.Time) error {
	max := fmt.Sprintf("%d", now.UnixMilli())
	entries, err := q.client.ZRangeByScore(ctx, keyDelayed, &redis.ZRangeBy{Min: "-inf", Max: max, Count: 100}).Result()
	if err != nil {
		return fmt.Errorf("list due jobs: %w", err)
	}
	for _, entry := range entries {
		removed, err := q.client.ZRem(ctx, keyDelayed, entry).Result()
		if err != nil {
			return fmt.Errorf("claim due job: %w", err)
		}
		if removed == 0 {
			continue // another worker claimed it
		}
		if err := q.client.LPush(ctx, keyJobs, entry).Err(); err != nil {
			return fmt.Errorf("requeue due job: %w", err)
		}
	}
	return nil
}

// Backoff returns the redelivery delay before the given attempt.
func Backoff(attempt int) time.Duration {
	delay := 30 * time.Second
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= 10*time.Minute {
			return 10 * time.Minute
		}
	}
	return delay
}
