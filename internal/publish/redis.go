package publish

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/angeloszaimis/dnslb/internal/zone"
)

// RedisPublisher mirrors the JSON document into a redis key and announces
// the new serial on a channel.
type RedisPublisher struct {
	client  *redis.Client
	key     string
	channel string
}

// NewRedisPublisher connects to addr ("host:port") and verifies the
// connection with a ping.
func NewRedisPublisher(ctx context.Context, addr, key, channel string) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     2,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("publish: failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisPublisher{client: client, key: key, channel: channel}, nil
}

func (r *RedisPublisher) Publish(ctx context.Context, doc *zone.Document) error {
	data, err := doc.Marshal()
	if err != nil {
		return fmt.Errorf("publish: encode zone: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key, data, 0)
	if r.channel != "" {
		pipe.Publish(ctx, r.channel, strconv.FormatUint(uint64(doc.Serial), 10))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("publish: redis %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisPublisher) Close() error {
	return r.client.Close()
}
