// Package cache implements the read-through Redis cache described in
// SPEC_FULL.md §11: SourcifyMatch lookups optionally consult Redis keyed
// by (chain_id, address) before falling through to the canonical store,
// purely as a performance aid — pebble remains authoritative. Grounded on
// the teacher's pkg/eventbus/redis_adapter.go for go-redis client
// construction and lazy-connect idiom, narrowed from pub/sub to simple
// GET/SETEX.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/chainverify/verifyd/internal/sinks"
	"github.com/chainverify/verifyd/internal/store"
)

// Config mirrors internal/config.CacheConfig.
type Config struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// ReadThroughCache wraps an underlying sinks.ReadSink, consulting Redis
// before falling through. It implements sinks.ReadSink itself so it can
// be substituted anywhere the fan-out policy's read sink is configured.
type ReadThroughCache struct {
	client     *redis.Client
	underlying sinks.ReadSink
	ttl        time.Duration
	logger     *zap.Logger
}

var _ sinks.ReadSink = (*ReadThroughCache)(nil)

// New constructs a ReadThroughCache. The redis.Client dials lazily, so
// construction never blocks on Redis connectivity; a down Redis degrades
// every lookup to a cache miss rather than failing it.
func New(cfg Config, underlying sinks.ReadSink, logger *zap.Logger) *ReadThroughCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &ReadThroughCache{client: client, underlying: underlying, ttl: ttl, logger: logger}
}

func matchCacheKey(chainID, address string) string {
	return fmt.Sprintf("verifyd:match:%s:%s", chainID, address)
}

// GetByChainAndAddress implements sinks.ReadSink, consulting Redis first
// and populating it on a miss. Any Redis error (including a connection
// failure) is treated as a cache miss and logged, never surfaced to the
// caller — pebble via underlying remains authoritative.
func (c *ReadThroughCache) GetByChainAndAddress(ctx context.Context, chainID, address string) (*store.SourcifyMatch, error) {
	key := matchCacheKey(chainID, address)

	if raw, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var match store.SourcifyMatch
		if unmarshalErr := json.Unmarshal(raw, &match); unmarshalErr == nil {
			return &match, nil
		}
	} else if err != redis.Nil {
		c.logger.Warn("cache: redis GET failed, falling through to store", zap.String("key", key), zap.Error(err))
	}

	match, err := c.underlying.GetByChainAndAddress(ctx, chainID, address)
	if err != nil {
		return nil, err
	}

	if raw, marshalErr := json.Marshal(match); marshalErr == nil {
		if setErr := c.client.Set(ctx, key, raw, c.ttl).Err(); setErr != nil {
			c.logger.Warn("cache: redis SET failed", zap.String("key", key), zap.Error(setErr))
		}
	}
	return match, nil
}

// GetFiles implements sinks.ReadSink by passing straight through: file
// bodies are large and read far less often than the match pointer, so
// SPEC_FULL.md §11 only caches the match lookup.
func (c *ReadThroughCache) GetFiles(ctx context.Context, chainID, address string) (map[string][]byte, error) {
	return c.underlying.GetFiles(ctx, chainID, address)
}

// Invalidate removes a cached match so the next read goes to the
// underlying sink instead of waiting out the TTL. Nothing in this
// repository calls it; a repoint is not followed by an invalidation.
func (c *ReadThroughCache) Invalidate(ctx context.Context, chainID, address string) {
	if err := c.client.Del(ctx, matchCacheKey(chainID, address)).Err(); err != nil {
		c.logger.Warn("cache: redis DEL failed during invalidation", zap.String("key", matchCacheKey(chainID, address)), zap.Error(err))
	}
}

// Close releases the underlying Redis connection pool.
func (c *ReadThroughCache) Close() error {
	return c.client.Close()
}
