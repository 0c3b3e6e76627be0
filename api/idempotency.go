package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

const (
	dedupeKeyPrefix = "idempotency"
	pendingMarker   = "pending"
)

// RedisDeduper stores idempotent responses in Redis so all instances
// replay the same response for a repeated key.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{client: client, ttl: ttl}
}

func (r *RedisDeduper) key(scope, key string) string {
	return fmt.Sprintf("%s:%s:%s", scope, dedupeKeyPrefix, key)
}

// Begin claims the key with a pending marker. A key already holding a
// response returns it; a key still pending reports started=false.
func (r *RedisDeduper) Begin(ctx context.Context, scope, key string) (*StoredResponse, bool, error) {
	k := r.key(scope, key)
	added, err := r.client.SetNX(ctx, k, pendingMarker, r.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if added {
		return nil, true, nil
	}
	raw, err := r.client.Get(ctx, k).Result()
	if errors.Is(err, redis.Nil) {
		// Released between the two calls; claim it again.
		return r.Begin(ctx, scope, key)
	}
	if err != nil {
		return nil, false, err
	}
	if raw == pendingMarker {
		return nil, false, nil
	}
	var resp StoredResponse
	if err := sonic.UnmarshalString(raw, &resp); err != nil {
		return nil, false, fmt.Errorf("decode stored response: %w", err)
	}
	return &resp, false, nil
}

// Complete replaces the pending marker with the response.
func (r *RedisDeduper) Complete(ctx context.Context, scope, key string, resp StoredResponse) error {
	data, err := sonic.MarshalString(resp)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.key(scope, key), data, r.ttl).Err()
}

// Abort deletes a claimed key. It is used when processing fails so the
// caller may retry the request.
func (r *RedisDeduper) Abort(ctx context.Context, scope, key string) error {
	return r.client.Del(ctx, r.key(scope, key)).Err()
}
