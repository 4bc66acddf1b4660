package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultCacheTTL    = 5 * time.Minute
	defaultCachePrefix = "aegis:answers"

	forgetScanBatch = 100
)

// CacheConfig tunes the response cache.
type CacheConfig struct {
	TTL    time.Duration
	Prefix string
}

// ResponseCache memoises pipeline responses per user. Keys are built from a
// digest of the query so the cache never stores raw query text in key space,
// and entries are namespaced by user so one account can never read another
// account's answers.
type ResponseCache struct {
	client *goredis.Client
	ttl    time.Duration
	prefix string
}

// NewResponseCache wraps the shared client with cache semantics.
func NewResponseCache(client *goredis.Client, cfg CacheConfig) *ResponseCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = defaultCachePrefix
	}
	return &ResponseCache{client: client, ttl: ttl, prefix: prefix}
}

// Lookup returns the cached payload for the user's query, if present.
func (c *ResponseCache) Lookup(ctx context.Context, userID, query string) ([]byte, bool, error) {
	payload, err := c.client.Get(ctx, c.key(userID, query)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache lookup: %w", err)
	}
	return payload, true, nil
}

// Store caches the payload for the user's query with the configured TTL.
func (c *ResponseCache) Store(ctx context.Context, userID, query string, payload []byte) error {
	if err := c.client.Set(ctx, c.key(userID, query), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache store: %w", err)
	}
	return nil
}

// Forget removes every cached answer belonging to the user and reports how
// many entries were dropped. Used when grants change or on erasure requests,
// so stale answers cannot outlive a revoked surface.
func (c *ResponseCache) Forget(ctx context.Context, userID string) (int64, error) {
	pattern := fmt.Sprintf("%s:%s:*", c.prefix, hashComponent(userID))
	var removed int64
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, forgetScanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("cache scan: %w", err)
		}
		if len(keys) > 0 {
			deleted, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("cache delete: %w", err)
			}
			removed += deleted
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func (c *ResponseCache) key(userID, query string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, hashComponent(userID), hashComponent(strings.TrimSpace(query)))
}

func hashComponent(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:16])
}
