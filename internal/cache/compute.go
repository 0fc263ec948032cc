package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jonesrussell/marketpulse/internal/logger"
)

// GetOrCompute returns the cached value for key, decoding it as JSON into T.
// On a miss it runs compute, stores the encoded result best-effort, and
// returns the fresh value; a failed cache write never fails the caller. A
// payload that fails to decode is treated as corrupt: the key is deleted and
// compute runs exactly once, same as a miss. Only compute's own error is ever
// returned.
func GetOrCompute[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, compute func(context.Context) (T, error)) (T, error) {
	if payload, ok := c.Get(ctx, key); ok {
		var cached T
		if err := json.Unmarshal([]byte(payload), &cached); err == nil {
			return cached, nil
		}
		c.log.Warn("corrupt cache payload dropped", logger.String("key", key))
		c.Delete(ctx, key)
	}

	value, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		c.log.Warn("cache encode failed", logger.String("key", key), logger.Error(err))
		return value, nil
	}
	c.Set(ctx, key, string(encoded), ttl)

	return value, nil
}
