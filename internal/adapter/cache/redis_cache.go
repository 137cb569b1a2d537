package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"nemesis/internal/domain"
	"nemesis/internal/port"
)

// RedisDiscoveryCache shares discovery pages between processes. Page keys embed the
// current generation counter, so Invalidate is a single INCR and stale pages simply
// expire.
type RedisDiscoveryCache struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
	log       zerolog.Logger
}

// RedisOption configures a RedisDiscoveryCache.
type RedisOption func(*RedisDiscoveryCache)

// WithTTL sets the TTL for cached pages.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *RedisDiscoveryCache) {
		r.ttl = ttl
	}
}

// WithKeyPrefix sets a custom prefix for Redis keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisDiscoveryCache) {
		r.keyPrefix = prefix
	}
}

// WithLogger routes cache failures to log.
func WithLogger(log zerolog.Logger) RedisOption {
	return func(r *RedisDiscoveryCache) {
		r.log = log
	}
}

// NewRedisDiscoveryCache connects to the Redis instance at url (redis://host:port/db).
func NewRedisDiscoveryCache(ctx context.Context, url string, options ...RedisOption) (*RedisDiscoveryCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisDiscoveryCacheWithClient(client, options...), nil
}

// NewRedisDiscoveryCacheWithClient wraps an existing client.
func NewRedisDiscoveryCacheWithClient(client *redis.Client, options ...RedisOption) *RedisDiscoveryCache {
	c := &RedisDiscoveryCache{
		client:    client,
		ttl:       5 * time.Minute,
		keyPrefix: "nemesis",
		log:       zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

func (c *RedisDiscoveryCache) genKey() string {
	return c.keyPrefix + ":discovery:gen"
}

func (c *RedisDiscoveryCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.genKey()).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return gen, err
}

func (c *RedisDiscoveryCache) pageKey(gen int64, key port.DiscoveryKey) string {
	return fmt.Sprintf("%s:discovery:%d:%s:%d:%d", c.keyPrefix, gen, key.RequesterID, key.Limit, key.Offset)
}

// Get treats every Redis failure as a miss. A gen of -1 means the generation could
// not be read and Put will skip the page.
func (c *RedisDiscoveryCache) Get(ctx context.Context, key port.DiscoveryKey) ([]domain.ScoredCandidate, int64, bool) {
	gen, err := c.generation(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("discovery cache: read generation")
		return nil, -1, false
	}
	data, err := c.client.Get(ctx, c.pageKey(gen, key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Str("requester", key.RequesterID).Msg("discovery cache: get")
		}
		return nil, gen, false
	}
	var results []domain.ScoredCandidate
	if err := json.Unmarshal(data, &results); err != nil {
		c.log.Warn().Err(err).Msg("discovery cache: decode")
		return nil, gen, false
	}
	return results, gen, true
}

// Put stores a page under the generation it was ranked in. If an Invalidate has bumped
// the counter since, Get reads the new generation and never reaches this key.
func (c *RedisDiscoveryCache) Put(ctx context.Context, key port.DiscoveryKey, gen int64, results []domain.ScoredCandidate) {
	if gen < 0 {
		return
	}
	data, err := json.Marshal(results)
	if err != nil {
		c.log.Warn().Err(err).Msg("discovery cache: encode")
		return
	}
	if err := c.client.Set(ctx, c.pageKey(gen, key), data, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Msg("discovery cache: set")
	}
}

func (c *RedisDiscoveryCache) Invalidate(ctx context.Context) {
	if err := c.client.Incr(ctx, c.genKey()).Err(); err != nil {
		c.log.Warn().Err(err).Msg("discovery cache: invalidate")
	}
}

func (c *RedisDiscoveryCache) Close() error {
	return c.client.Close()
}
