// Package cache provides the Redis-backed cache shared by the ingestion
// scheduler (dedup markers), the query layer (response memoization), and the
// admin surface. Every operation is safe to call while disconnected and
// degrades to a miss or no-op instead of returning an error, so callers fall
// back to recomputation when the backing store is unavailable.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonesrussell/marketpulse/internal/logger"
)

// ErrEmptyAddress is returned when the cache address is not configured.
var ErrEmptyAddress = errors.New("cache address is required")

const (
	// connectTimeout bounds the ping that verifies a new connection.
	connectTimeout = 5 * time.Second

	// scanCount is the batch size for SCAN-based pattern operations.
	scanCount = 100
)

// Config holds the cache connection settings.
type Config struct {
	Address  string `yaml:"address" env:"REDIS_ADDRESS"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
}

// Cache is a key/value store with per-key TTLs and an explicit connection
// lifecycle. All methods are safe for concurrent use.
type Cache struct {
	cfg Config
	log logger.Logger

	mu     sync.RWMutex
	client *redis.Client

	hits   atomic.Int64
	misses atomic.Int64
}

// Stats describes the cache's operational state.
type Stats struct {
	Connected bool  `json:"connected"`
	Keys      int64 `json:"keys"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
}

// New creates a Cache in the disconnected state. Call Connect before use;
// operations invoked while disconnected behave as misses.
func New(cfg Config, log logger.Logger) *Cache {
	return &Cache{cfg: cfg, log: log}
}

// Connect dials the backing store and verifies it with a bounded ping.
// Connecting an already-connected cache is a no-op.
func (c *Cache) Connect(ctx context.Context) error {
	if c.cfg.Address == "" {
		return ErrEmptyAddress
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil {
		return nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     c.cfg.Address,
		Password: c.cfg.Password,
		DB:       c.cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("cache ping failed: %w", err)
	}

	c.client = client
	c.log.Info("cache connected", logger.String("address", c.cfg.Address))
	return nil
}

// Disconnect closes the backing connection. Idempotent.
func (c *Cache) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil
	}
	err := c.client.Close()
	c.client = nil
	c.log.Info("cache disconnected")
	return err
}

// Connected reports whether the cache currently holds a live connection.
func (c *Cache) Connected() bool {
	return c.conn() != nil
}

func (c *Cache) conn() *redis.Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client
}

// Get returns the value for key, or ok=false on a miss. Backing-store
// failures are reported as misses, never as errors.
func (c *Cache) Get(ctx context.Context, key string) (string, bool) {
	client := c.conn()
	if client == nil {
		c.misses.Add(1)
		return "", false
	}

	val, err := client.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Debug("cache get failed", logger.String("key", key), logger.Error(err))
		}
		c.misses.Add(1)
		return "", false
	}

	c.hits.Add(1)
	return val, true
}

// Set stores value under key. A ttl of zero or less means no expiry. Returns
// false, not an error, when the store is unavailable or the write fails.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) bool {
	client := c.conn()
	if client == nil {
		return false
	}
	if ttl < 0 {
		ttl = 0
	}

	if err := client.Set(ctx, key, value, ttl).Err(); err != nil {
		c.log.Debug("cache set failed", logger.String("key", key), logger.Error(err))
		return false
	}
	return true
}

// Delete removes key and reports whether it existed.
func (c *Cache) Delete(ctx context.Context, key string) bool {
	client := c.conn()
	if client == nil {
		return false
	}

	deleted, err := client.Del(ctx, key).Result()
	if err != nil {
		c.log.Debug("cache delete failed", logger.String("key", key), logger.Error(err))
		return false
	}
	return deleted > 0
}

// Exists reports whether key is present. Unavailability reads as absent.
func (c *Cache) Exists(ctx context.Context, key string) bool {
	client := c.conn()
	if client == nil {
		return false
	}

	n, err := client.Exists(ctx, key).Result()
	if err != nil {
		c.log.Debug("cache exists failed", logger.String("key", key), logger.Error(err))
		return false
	}
	return n == 1
}

// Keys returns all keys matching pattern via SCAN. Unavailability or a scan
// failure yields nil.
func (c *Cache) Keys(ctx context.Context, pattern string) []string {
	client := c.conn()
	if client == nil {
		return nil
	}

	var keys []string
	var cursor uint64
	for {
		batch, next, err := client.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			c.log.Debug("cache scan failed", logger.String("pattern", pattern), logger.Error(err))
			return nil
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys
		}
	}
}

// DeleteMatching removes every key matching pattern and returns the count
// removed. SCAN is used rather than KEYS so large keyspaces are walked in
// batches.
func (c *Cache) DeleteMatching(ctx context.Context, pattern string) int {
	client := c.conn()
	if client == nil {
		return 0
	}

	var deleted int
	var cursor uint64
	for {
		batch, next, err := client.Scan(ctx, cursor, pattern, scanCount).Result()
		if err != nil {
			c.log.Debug("cache scan failed", logger.String("pattern", pattern), logger.Error(err))
			return deleted
		}
		if len(batch) > 0 {
			n, delErr := client.Del(ctx, batch...).Result()
			if delErr != nil {
				c.log.Debug("cache delete failed",
					logger.Int("key_count", len(batch)),
					logger.Error(delErr),
				)
				return deleted
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			c.log.Info("cache keys flushed",
				logger.String("pattern", pattern),
				logger.Int("keys_deleted", deleted),
			)
			return deleted
		}
	}
}

// Stats reports connection state, key count, and process-local hit/miss
// counters.
func (c *Cache) Stats(ctx context.Context) Stats {
	s := Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}

	client := c.conn()
	if client == nil {
		return s
	}
	s.Connected = true

	keys, err := client.DBSize(ctx).Result()
	if err != nil {
		c.log.Debug("cache dbsize failed", logger.Error(err))
		return s
	}
	s.Keys = keys
	return s
}
