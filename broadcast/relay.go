package broadcast

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const reconnectDelay = time.Second

// RedisRelay fans events out across instances over Redis pub/sub. Every
// instance publishes to the board channel and delivers what it receives to
// its local hub, its own publications included.
type RedisRelay struct {
	client *redis.Client
	log    *log.Logger
}

func NewRedisRelay(client *redis.Client, logger *log.Logger) *RedisRelay {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RedisRelay{client: client, log: logger}
}

// Channel returns the pub/sub channel name for a board.
func Channel(boardID string) string { return "board:" + boardID + ":events" }

func (r *RedisRelay) Publish(ctx context.Context, boardID string, data []byte) error {
	return r.client.Publish(ctx, Channel(boardID), data).Err()
}

// Run subscribes to the board channel and calls deliver for every message
// until ctx is done, resubscribing whenever the subscription drops.
func (r *RedisRelay) Run(ctx context.Context, boardID string, deliver func([]byte)) {
	channel := Channel(boardID)
	for {
		sub := r.client.Subscribe(ctx, channel)
		if _, err := sub.Receive(ctx); err != nil {
			_ = sub.Close()
			if ctx.Err() != nil {
				return
			}
			r.log.WithError(err).WithField("channel", channel).Error("subscribe failed, retrying")
			if !sleepCtx(ctx, reconnectDelay) {
				return
			}
			continue
		}
		ch := sub.Channel()
	recv:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break recv
				}
				deliver([]byte(msg.Payload))
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		r.log.WithField("channel", channel).Error("pubsub channel closed, reconnecting")
		if !sleepCtx(ctx, reconnectDelay) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
