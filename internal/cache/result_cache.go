// Package cache provides Redis-backed caching of backtest results, keyed by
// the full run configuration so identical runs are never recomputed.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ResultCacheStats tracks cache performance counters.
type ResultCacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	Errors int64 `json:"errors"`
	mu     sync.RWMutex
}

// ResultCache stores serialized backtest records in Redis.
type ResultCache struct {
	redis  *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
	stats  *ResultCacheStats
	prefix string
}

// NewResultCache creates a Redis-backed result cache. Entries expire after
// ttl; a non-positive ttl defaults to one hour.
func NewResultCache(redisClient *redis.Client, ttl time.Duration, logger *logrus.Logger) *ResultCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ResultCache{
		redis:  redisClient,
		ttl:    ttl,
		logger: logger,
		stats:  &ResultCacheStats{},
		prefix: "backtest_result:",
	}
}

// Key derives a deterministic cache key from the run configuration,
// including the requested date window. Options and parameters are serialized
// with sorted keys so logically equal configurations always hash the same.
func (c *ResultCache) Key(strategyID, symbol, timeframe string, start, end time.Time, options, params map[string]any) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|", strategyID, symbol, timeframe,
		start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano))
	h.Write(canonicalJSON(options))
	h.Write([]byte{'|'})
	h.Write(canonicalJSON(params))
	return c.prefix + hex.EncodeToString(h.Sum(nil))
}

// Get retrieves a cached record into dest. The boolean reports a cache hit.
func (c *ResultCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		c.count(&c.stats.Misses)
		return false, nil
	}
	if err != nil {
		c.count(&c.stats.Errors)
		return false, fmt.Errorf("failed to read cached result: %w", err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		// A corrupt entry is treated as a miss so the caller recomputes.
		c.count(&c.stats.Misses)
		c.logger.WithFields(logrus.Fields{
			"key":   key,
			"error": err.Error(),
		}).Warn("Discarding undecodable cached result")
		return false, nil
	}

	c.count(&c.stats.Hits)
	return true, nil
}

// Set stores a record under key with the configured TTL.
func (c *ResultCache) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to serialize result for caching: %w", err)
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.count(&c.stats.Errors)
		return fmt.Errorf("failed to cache result: %w", err)
	}
	c.count(&c.stats.Sets)
	return nil
}

// Invalidate removes a single cached entry.
func (c *ResultCache) Invalidate(ctx context.Context, key string) error {
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate cached result: %w", err)
	}
	return nil
}

// Stats returns a snapshot of the performance counters.
func (c *ResultCache) Stats() ResultCacheStats {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()
	return ResultCacheStats{
		Hits:   c.stats.Hits,
		Misses: c.stats.Misses,
		Sets:   c.stats.Sets,
		Errors: c.stats.Errors,
	}
}

func (c *ResultCache) count(field *int64) {
	c.stats.mu.Lock()
	*field++
	c.stats.mu.Unlock()
}

// canonicalJSON serializes a map with its keys in sorted order.
func canonicalJSON(m map[string]any) []byte {
	if len(m) == 0 {
		return []byte("{}")
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf := []byte{'{'}
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, _ := json.Marshal(k)
		vb, _ := json.Marshal(m[k])
		buf = append(buf, kb...)
		buf = append(buf, ':')
		buf = append(buf, vb...)
	}
	return append(buf, '}')
}
