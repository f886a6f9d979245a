package synthesis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const cacheKeyPrefix = "storyline:synthesis:"

var ErrCacheMiss = errors.New("synthesis cache miss")

// Cache stores serialized synthesis results.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	value, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// CachedSynthesizer reuses results for an identical ordered article set.
// Cache failures are logged and fall through to the wrapped synthesizer.
type CachedSynthesizer struct {
	next   Synthesizer
	cache  Cache
	ttl    time.Duration
	logger zerolog.Logger
}

func NewCachedSynthesizer(next Synthesizer, cache Cache, ttl time.Duration, logger zerolog.Logger) *CachedSynthesizer {
	return &CachedSynthesizer{next: next, cache: cache, ttl: ttl, logger: logger}
}

func (c *CachedSynthesizer) Name() string {
	return c.next.Name()
}

func (c *CachedSynthesizer) Synthesize(ctx context.Context, req Request) (*Result, error) {
	key := CacheKey(c.next.Name(), req)

	if raw, err := c.cache.Get(ctx, key); err == nil {
		var cached Result
		if err := json.Unmarshal(raw, &cached); err == nil {
			return &cached, nil
		}
		c.logger.Warn().Str("cache_key", key).Msg("discarding undecodable cached synthesis")
	} else if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn().Err(err).Str("cache_key", key).Msg("synthesis cache read failed")
	}

	result, err := c.next.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(result); err == nil {
		if err := c.cache.Set(ctx, key, raw, c.ttl); err != nil {
			c.logger.Warn().Err(err).Str("cache_key", key).Msg("synthesis cache write failed")
		}
	}
	return result, nil
}

// CacheKey hashes the provider name, prompt version and ordered article ids.
func CacheKey(provider string, req Request) string {
	parts := make([]string, 0, len(req.Articles)+2)
	parts = append(parts, provider, promptVersion)
	for _, id := range req.ArticleIDs() {
		parts = append(parts, strconv.FormatInt(id, 10))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}
