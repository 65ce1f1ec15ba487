/*
Package cluster lets several engine processes share one Redis.

PURPOSE:
  The engine serializes work per credit note with a credit.Locker and
  tells local subscribers about changes through its Notifier. Both are
  process-local by default. This package extends them across processes:

  RedisLocker:  credit.Locker backed by bsm/redislock
  Publisher:    relays local change signals to a Redis channel and
                relays remote ones back to a local callback

USAGE:
  rdb, err := cluster.Connect(ctx, cfg.RedisURL)
  engine := credit.NewEngine(store, credit.WithLocker(cluster.NewRedisLocker(rdb)))
  pub := cluster.NewPublisher(rdb, logger)
  detach := pub.Attach(engine)
  go pub.Watch(ctx, func() { log.Println("remote change") })
*/
package cluster

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect parses a redis:// URL, builds a client and pings it.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
