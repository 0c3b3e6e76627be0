package broadcast

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// Sequencer hands out the monotonic per-board version stamped on events.
type Sequencer interface {
	Next(ctx context.Context, boardID string) (int64, error)
	Current(ctx context.Context, boardID string) (int64, error)
}

// LocalSequencer keeps versions in process memory. It is only consistent
// for a single instance.
type LocalSequencer struct {
	versions sync.Map
}

func NewLocalSequencer() *LocalSequencer { return &LocalSequencer{} }

func (s *LocalSequencer) counter(boardID string) *atomic.Int64 {
	v, _ := s.versions.LoadOrStore(boardID, new(atomic.Int64))
	return v.(*atomic.Int64)
}

func (s *LocalSequencer) Next(_ context.Context, boardID string) (int64, error) {
	return s.counter(boardID).Add(1), nil
}

func (s *LocalSequencer) Current(_ context.Context, boardID string) (int64, error) {
	return s.counter(boardID).Load(), nil
}

// RedisSequencer shares versions across instances through INCR.
type RedisSequencer struct {
	client *redis.Client
}

func NewRedisSequencer(client *redis.Client) *RedisSequencer {
	return &RedisSequencer{client: client}
}

func versionKey(boardID string) string { return "board:" + boardID + ":version" }

func (s *RedisSequencer) Next(ctx context.Context, boardID string) (int64, error) {
	return s.client.Incr(ctx, versionKey(boardID)).Result()
}

func (s *RedisSequencer) Current(ctx context.Context, boardID string) (int64, error) {
	v, err := s.client.Get(ctx, versionKey(boardID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}
