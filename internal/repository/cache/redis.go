package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jaennil/guide_helper/tilestream/pkg/config"
)

type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(cfg config.Redis) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	return &RedisStore{
		client: client,
		ttl:    ttl,
	}, nil
}

var _ TileStore = (*RedisStore)(nil)

func (c *RedisStore) keyFor(k TileKey) string {
	return fmt.Sprintf("tile:%s:%d:%d:%d", k.Dataset, k.Z, k.X, k.Y)
}

func (c *RedisStore) Get(ctx context.Context, k TileKey) (data []byte, ok bool, err error) {
	defer func(start time.Time) { observe("redis", "get", start, err) }(time.Now())

	data, err = c.client.Get(ctx, c.keyFor(k)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get error: %w", err)
	}
	return data, true, nil
}

func (c *RedisStore) Set(ctx context.Context, k TileKey, v []byte) (err error) {
	defer func(start time.Time) { observe("redis", "set", start, err) }(time.Now())

	if err := c.client.Set(ctx, c.keyFor(k), v, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

func (c *RedisStore) Close() error {
	return c.client.Close()
}
