package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	idempLockPrefix = "idemp:"
	idempMapPrefix  = "idemp:map:"
)

// IdempotencyRepo backs request keys: a short SETNX lock while the first call
// is in flight, then a remembered result for replays.
type IdempotencyRepo struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewIdempotencyRepo(client *goredis.Client, ttl time.Duration) *IdempotencyRepo {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyRepo{client: client, ttl: ttl}
}

func (r *IdempotencyRepo) TryLock(ctx context.Context, scope, key string) (bool, error) {
	if r.client == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	ok, err := r.client.SetNX(ctx, idempLockPrefix+scope+":"+key, "1", r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lock idempotency key: %w", err)
	}
	return ok, nil
}

func (r *IdempotencyRepo) Release(ctx context.Context, scope, key string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Del(ctx, idempLockPrefix+scope+":"+key).Err(); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

func (r *IdempotencyRepo) Remember(ctx context.Context, scope, key, value string) error {
	if r.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	if err := r.client.Set(ctx, idempMapPrefix+scope+":"+key, value, r.ttl).Err(); err != nil {
		return fmt.Errorf("remember idempotency key: %w", err)
	}
	return nil
}

func (r *IdempotencyRepo) Recall(ctx context.Context, scope, key string) (string, bool, error) {
	if r.client == nil {
		return "", false, fmt.Errorf("redis client is nil")
	}
	val, err := r.client.Get(ctx, idempMapPrefix+scope+":"+key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("recall idempotency key: %w", err)
	}
	return val, true, nil
}
