package storage

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/shuvam773/kanban/domain"
)

// BoardCache keeps the assembled board projection in Redis. Entries are
// keyed by a generation counter that Evict bumps, so a snapshot built from
// data read before a mutation is never served after it.
type BoardCache struct {
	redis   *redis.Client
	boardID string
	ttl     time.Duration
	logger  *log.Logger
}

// NewBoardCache creates a cache for one board. A nil client or zero ttl
// disables caching.
func NewBoardCache(client *redis.Client, boardID string, ttl time.Duration, logger *log.Logger) *BoardCache {
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &BoardCache{redis: client, boardID: boardID, ttl: ttl, logger: logger}
}

func (c *BoardCache) generationKey() string {
	return "board:" + c.boardID + ":gen"
}

func (c *BoardCache) snapshotKey(gen int64) string {
	return "board:" + c.boardID + ":snapshot:" + strconv.FormatInt(gen, 10)
}

func (c *BoardCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.redis.Get(ctx, c.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Load returns the cached board for the current generation. The returned
// generation must be passed to Store when ok is false.
func (c *BoardCache) Load(ctx context.Context) (sections []domain.BoardSection, gen int64, ok bool) {
	if c == nil || c.redis == nil || c.ttl == 0 {
		return nil, 0, false
	}
	gen, err := c.generation(ctx)
	if err != nil {
		return nil, -1, false
	}
	data, err := c.redis.Get(ctx, c.snapshotKey(gen)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, c.snapshotKey(gen)).Err()
		}
		return nil, gen, false
	}
	if err := codec.Unmarshal(data, &sections); err != nil {
		_ = c.redis.Del(ctx, c.snapshotKey(gen)).Err()
		return nil, gen, false
	}
	return sections, gen, true
}

// Store caches sections under gen. A negative generation is ignored.
func (c *BoardCache) Store(ctx context.Context, gen int64, sections []domain.BoardSection) {
	if c == nil || c.redis == nil || c.ttl == 0 || gen < 0 {
		return
	}
	data, err := codec.Marshal(sections)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, c.snapshotKey(gen), data, c.ttl).Err()
}

// Evict invalidates every snapshot stored so far. When the generation
// cannot be bumped the current snapshot is deleted directly; when it cannot
// be read, Load cannot read it either and falls back to storage.
func (c *BoardCache) Evict(ctx context.Context) {
	if c == nil || c.redis == nil {
		return
	}
	entry := c.logger.WithField("board", c.boardID)
	prev, err := c.generation(ctx)
	if err != nil {
		entry.WithError(err).Warn("board cache: read generation for evict")
		if err := c.redis.Incr(ctx, c.generationKey()).Err(); err != nil {
			entry.WithError(err).Error("board cache: bump generation")
		}
		return
	}
	_, err = c.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, c.generationKey())
		pipe.Del(ctx, c.snapshotKey(prev))
		return nil
	})
	if err == nil {
		return
	}
	entry.WithError(err).WithField("generation", prev).Error("board cache: evict")
	if err := c.redis.Del(ctx, c.snapshotKey(prev)).Err(); err != nil {
		entry.WithError(err).WithField("generation", prev).Error("board cache: drop snapshot after failed evict")
	}
}
