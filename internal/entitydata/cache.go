package entitydata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"offersearch/api/internal/model"
)

// Cache is a read-through Redis cache in front of another Provider. Single
// entity lookups are cached; foreign-key listings always go to the source
// because their membership changes with every child create and delete.
type Cache struct {
	client *redis.Client
	next   Provider
	ttl    time.Duration
	prefix string
}

// NewCache connects to Redis and wraps next.
func NewCache(redisURL string, next Provider, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewCacheWithClient(client, next, ttl), nil
}

func NewCacheWithClient(client *redis.Client, next Provider, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, next: next, ttl: ttl, prefix: "entity:"}
}

func (c *Cache) key(kind model.EntityKind, id model.ID) string {
	return c.prefix + string(kind) + ":" + id.String()
}

// Get serves from Redis when possible. Redis failures degrade to the source.
func (c *Cache) Get(ctx context.Context, kind model.EntityKind, id model.ID) (json.RawMessage, error) {
	key := c.key(kind, id)
	cached, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.RawMessage(cached), nil
	}
	if !errors.Is(err, redis.Nil) {
		log.Printf("entitydata: cache read %s: %v", key, err)
	}

	raw, err := c.next.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	if err := c.client.Set(ctx, key, []byte(raw), c.ttl).Err(); err != nil {
		log.Printf("entitydata: cache write %s: %v", key, err)
	}
	return raw, nil
}

func (c *Cache) ListByForeignKey(ctx context.Context, kind model.EntityKind, field string, id model.ID) ([]json.RawMessage, error) {
	return c.next.ListByForeignKey(ctx, kind, field, id)
}

// Invalidate drops the cached entry so the next Get reads the source.
func (c *Cache) Invalidate(ctx context.Context, kind model.EntityKind, id model.ID) error {
	if err := c.client.Del(ctx, c.key(kind, id)).Err(); err != nil {
		return fmt.Errorf("invalidate %s %s: %w", kind, id, err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
