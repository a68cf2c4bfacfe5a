package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// resultTTL bounds how long a cached terminal result is kept. Retries of
// the same logical request arrive within minutes, not days.
const resultTTL = 24 * time.Hour

// Redis is an idempotency store backed by Redis. The in-progress claim
// is a SETNX lock with a TTL, so a crashed holder's key becomes
// claimable again once the TTL lapses; terminal results are cached under
// a separate key.
type Redis struct {
	client *redis.Client
	prefix string
}

var _ Store = (*Redis)(nil)

// NewRedis creates a Redis-backed idempotency store. The prefix
// namespaces keys; "conduct:idem" is used when empty.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "conduct:idem"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) lockKey(key string) string   { return r.prefix + ":lock:" + key }
func (r *Redis) resultKey(key string) string { return r.prefix + ":result:" + key }

// Begin attempts to claim the key.
func (r *Redis) Begin(ctx context.Context, key string, ttl time.Duration) (Claim, error) {
	// Completed result wins over any lock state.
	result, err := r.client.Get(ctx, r.resultKey(key)).Bytes()
	if err == nil {
		return Claim{State: StateCompleted, Result: result}, nil
	}
	if !errors.Is(err, redis.Nil) {
		return Claim{}, fmt.Errorf("idempotency: get result %q: %w", key, err)
	}

	ok, err := r.client.SetNX(ctx, r.lockKey(key), "1", ttl).Result()
	if err != nil {
		return Claim{}, fmt.Errorf("idempotency: claim %q: %w", key, err)
	}
	if !ok {
		return Claim{State: StateInProgress}, nil
	}
	return Claim{State: StateNew}, nil
}

// Complete records the terminal result and releases the lock.
func (r *Redis) Complete(ctx context.Context, key string, result []byte) error {
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.resultKey(key), result, resultTTL)
	pipe.Del(ctx, r.lockKey(key))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("idempotency: complete %q: %w", key, err)
	}
	return nil
}

// Fail releases an in-progress claim.
func (r *Redis) Fail(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.lockKey(key)).Err(); err != nil {
		return fmt.Errorf("idempotency: release %q: %w", key, err)
	}
	return nil
}
