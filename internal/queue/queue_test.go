package queue

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// fakeRedis scripts the handful of commands Enqueue issues.
type fakeRedis struct {
	keys    map[string]string
	list    []string
	pushErr error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: make(map[string]string)}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var removed int64
	for _, key := range keys {
		if _, ok := f.keys[key]; ok {
			delete(f.keys, key)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func (f *fakeRedis) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	if f.pushErr != nil {
		return redis.NewIntResult(0, f.pushErr)
	}
	for _, value := range values {
		switch v := value.(type) {
		case []byte:
			f.list = append(f.list, string(v))
		default:
			f.list = append(f.list, fmt.Sprint(v))
		}
	}
	return redis.NewIntResult(int64(len(f.list)), nil)
}

func (f *fakeRedis) LRem(ctx context.Context, key string, count int64, value interface{}) *redis.IntCmd {
	return redis.NewIntResult(0, nil)
}

func (f *fakeRedis) BRPopLPush(ctx context.Context, source, destination string, timeout time.Duration) *redis.StringCmd {
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeRedis) RPopLPush(ctx context.Context, source, destination string) *redis.StringCmd {
	return redis.NewStringResult("", redis.Nil)
}

func (f *fakeRedis) Incr(ctx context.Context, key string) *redis.IntCmd {
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd {
	return redis.NewIntResult(int64(len(members)), nil)
}

func (f *fakeRedis) ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd {
	return redis.NewStringSliceResult(nil, nil)
}

func (f *fakeRedis) ZRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd {
	return redis.NewIntResult(0, nil)
}

func (f *fakeRedis) Close() error { return nil }

func TestEnqueueDropsDuplicateIdempotencyKey(t *testing.T) {
	fake := newFakeRedis()
	q := &RedisQueue{client: fake}
	ctx := context.Background()

	job := DeploymentJobData{DeploymentID: "dep-1"}
	if err := q.Enqueue(ctx, JobDeploy, DeployIdempotencyKey("dep-1"), job); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := q.Enqueue(ctx, JobDeploy, DeployIdempotencyKey("dep-1"), job); err != nil {
		t.Fatalf("duplicate enqueue must be a silent drop, got %v", err)
	}
	if len(fake.list) != 1 {
		t.Fatalf("expected one queued job, got %d", len(fake.list))
	}
}

func TestEnqueueReleasesIdempotencyKeyOnPushFailure(t *testing.T) {
	fake := newFakeRedis()
	q := &RedisQueue{client: fake}
	ctx := context.Background()
	fake.pushErr = errors.New("connection reset")

	job := DeploymentJobData{DeploymentID: "dep-1"}
	err := q.Enqueue(ctx, JobDeploy, DeployIdempotencyKey("dep-1"), job)
	if err == nil {
		t.Fatalf("push failure must surface to the producer")
	}
	if len(fake.keys) != 0 {
		t.Fatalf("idempotency key left reserved after failed push: %v", fake.keys)
	}

	// The producer's own queue retry must now get through.
	fake.pushErr = nil
	if err := q.Enqueue(ctx, JobDeploy, DeployIdempotencyKey("dep-1"), job); err != nil {
		t.Fatalf("retried enqueue: %v", err)
	}
	if len(fake.list) != 1 {
		t.Fatalf("retried job never reached the queue: %d entries", len(fake.list))
	}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 8 * time.Minute},
		{6, 10 * time.Minute},
		{12, 10 * time.Minute},
	}
	for _, tc := range cases {
		if got := Backoff(tc.attempt); got != tc.want {
			t.Fatalf("Backoff(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestIdempotencyKeysAreStagePrefixed(t *testing.T) {
	if BuildIdempotencyKey("dep-1") != "build-dep-1" {
		t.Fatalf("unexpected build key %q", BuildIdempotencyKey("dep-1"))
	}
	if DeployIdempotencyKey("dep-1") != "deploy-dep-1" {
		t.Fatalf("unexpected deploy key %q", DeployIdempotencyKey("dep-1"))
	}
	if BuildIdempotencyKey("dep-1") == DeployIdempotencyKey("dep-1") {
		t.Fatalf("build and deploy stages must never share a key")
	}
}
