package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"notesrag/internal/config"
	"notesrag/internal/model"
)

// RedisRetrievalCache is the optional L2 layer behind Layers.Retrievals:
// same cache key shape ("tenant|normalizedQuery"), shared across process
// restarts and multiple server instances. A nil client (Redis
// unconfigured, or unreachable at construction) makes every method a safe
// no-op, so retrieval never blocks on it.
type RedisRetrievalCache struct {
	client redis.UniversalClient
	ttl    time.Duration
	log    zerolog.Logger
}

// NewRedisRetrievalCache dials Redis and pings it once; returns a no-op
// cache when cfg.Addr is empty or the ping fails.
func NewRedisRetrievalCache(cfg config.RedisConfig, ttl time.Duration, log zerolog.Logger) *RedisRetrievalCache {
	if cfg.Addr == "" {
		return &RedisRetrievalCache{log: log}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Msg("redis retrieval cache ping failed, L2 cache disabled")
		return &RedisRetrievalCache{log: log}
	}
	if ttl <= 0 {
		ttl = 3 * time.Minute
	}
	return &RedisRetrievalCache{client: client, ttl: ttl, log: log}
}

func redisKey(tenant, normalizedQuery string) string {
	return fmt.Sprintf("notesrag:retrieval:%s:%s", tenant, normalizedQuery)
}

// Get returns the cached result, if any. Deserialization failures are
// treated as a cache miss.
func (c *RedisRetrievalCache) Get(ctx context.Context, tenant, normalizedQuery string) (model.RetrievalResult, bool) {
	if c == nil || c.client == nil {
		return model.RetrievalResult{}, false
	}
	raw, err := c.client.Get(ctx, redisKey(tenant, normalizedQuery)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Debug().Err(err).Msg("redis retrieval cache get failed")
		}
		return model.RetrievalResult{}, false
	}
	var result model.RetrievalResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.log.Warn().Err(err).Msg("redis retrieval cache value corrupt")
		return model.RetrievalResult{}, false
	}
	return result, true
}

// Set best-effort writes result back to Redis with the configured TTL.
func (c *RedisRetrievalCache) Set(ctx context.Context, tenant, normalizedQuery string, result model.RetrievalResult) {
	if c == nil || c.client == nil {
		return
	}
	payload, err := json.Marshal(result)
	if err != nil {
		c.log.Warn().Err(err).Msg("redis retrieval cache marshal failed")
		return
	}
	if err := c.client.Set(ctx, redisKey(tenant, normalizedQuery), payload, c.ttl).Err(); err != nil {
		c.log.Debug().Err(err).Msg("redis retrieval cache set failed")
	}
}

// Close releases the underlying client, if any.
func (c *RedisRetrievalCache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
