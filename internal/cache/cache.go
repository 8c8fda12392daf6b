// Package cache memoizes resolver output in Redis. It is an optimization,
// not a source of truth: every mutation flushes the whole namespace, so a
// read either hits a value produced after the last write or falls through to
// a fresh resolve. Concurrent set/flush races are tolerated for the same
// reason.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"tessera/api/internal/docstore"
)

const defaultTTL = 24 * time.Hour

// Cache is a Redis-backed key/value map scoped under one prefix.
type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(redisURL string) (*Cache, error) {
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
	return NewWithClient(client), nil
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(client *redis.Client) *Cache {
	return &Cache{client: client, prefix: "resolve:", ttl: defaultTTL}
}

func (c *Cache) key(k string) string {
	return c.prefix + k
}

// Hash derives a deterministic cache key from a structured request body.
func (c *Cache) Hash(body any) string {
	raw, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	sum := sha1.Sum(raw)
	return hex.EncodeToString(sum[:])
}

// Get returns the cached document for key. A value missing its identity
// field is treated as corrupt: it is deleted and reported as a miss.
func (c *Cache) Get(ctx context.Context, key string) (docstore.Document, bool) {
	raw, err := c.client.Get(ctx, c.key(key)).Result()
	if err != nil {
		return nil, false
	}
	var doc docstore.Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil || docstore.ID(doc) == "" {
		c.client.Del(ctx, c.key(key))
		return nil, false
	}
	return doc, true
}

// Set stores a resolved document under key.
func (c *Cache) Set(ctx context.Context, key string, doc docstore.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// GetList returns a cached result set, e.g. an explore page.
func (c *Cache) GetList(ctx context.Context, key string) ([]docstore.Document, bool) {
	raw, err := c.client.Get(ctx, c.key(key)).Result()
	if err != nil {
		return nil, false
	}
	var docs []docstore.Document
	if err := json.Unmarshal([]byte(raw), &docs); err != nil {
		c.client.Del(ctx, c.key(key))
		return nil, false
	}
	return docs, true
}

// SetList stores a result set under key.
func (c *Cache) SetList(ctx context.Context, key string, docs []docstore.Document) error {
	raw, err := json.Marshal(docs)
	if err != nil {
		return fmt.Errorf("encode cache list: %w", err)
	}
	if err := c.client.Set(ctx, c.key(key), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Delete removes one key, returning how many entries were dropped.
func (c *Cache) Delete(ctx context.Context, key string) int64 {
	n, _ := c.client.Del(ctx, c.key(key)).Result()
	return n
}

// Flush drops every key in the cache namespace. Coarse invalidation is
// deliberate: a mutation to a shared person can change the resolved view of
// any number of unrelated entities, and tracking that fan-in graph costs
// more than re-resolving.
func (c *Cache) Flush(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("cache scan: %w", err)
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("cache flush: %w", err)
		}
	}
	return nil
}

// Ping checks the Redis connection.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}
