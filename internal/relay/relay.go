// Package relay fans room events out across server nodes through redis
// pub/sub, one channel per room. A room publishes every committed surface
// snapshot and ephemeral broadcast; peer nodes apply what they receive.
package relay

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Relay is the cross-node fanout used by room loops. Implementations must
// not deliver a node's own messages back to it; callers tag envelopes with
// their node id and filter on receive.
type Relay interface {
	Publish(ctx context.Context, roomCode string, payload []byte) error
	Subscribe(ctx context.Context, roomCode string) <-chan []byte
	Close() error
}

type RedisRelay struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewRedisRelay(ctx context.Context, addr string, log *zap.Logger) (*RedisRelay, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisRelay{rdb: rdb, log: log}, nil
}

func channelName(roomCode string) string { return "room:" + roomCode }

func (r *RedisRelay) Publish(ctx context.Context, roomCode string, payload []byte) error {
	return r.rdb.Publish(ctx, channelName(roomCode), payload).Err()
}

// Subscribe returns a channel that closes when ctx is cancelled.
func (r *RedisRelay) Subscribe(ctx context.Context, roomCode string) <-chan []byte {
	sub := r.rdb.Subscribe(ctx, channelName(roomCode))
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				default:
					r.log.Warn("relay subscriber full, dropping message",
						zap.String("room", roomCode))
				}
			}
		}
	}()
	return out
}

func (r *RedisRelay) Close() error { return r.rdb.Close() }
