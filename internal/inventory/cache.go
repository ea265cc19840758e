package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// StockCache is a read-through Redis cache for current stock levels.
// Concurrent misses for the same key share a single load.
type StockCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewStockCache instantiates the cache helper. A nil client disables caching.
func NewStockCache(client *redis.Client, ttl time.Duration) *StockCache {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &StockCache{client: client, ttl: ttl}
}

func stockKey(businessID, productID int64) string {
	return strings.Join([]string{"inventory", "stock", strconv.FormatInt(businessID, 10), strconv.FormatInt(productID, 10)}, ":")
}

// Fetch returns the cached level or populates it using loader.
func (c *StockCache) Fetch(ctx context.Context, businessID, productID int64, loader func(context.Context) (StockLevel, error)) (StockLevel, error) {
	if loader == nil {
		return StockLevel{}, errors.New("inventory: cache loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key := stockKey(businessID, productID)
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var level StockLevel
		if err := json.Unmarshal(payload, &level); err == nil {
			return level, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return loader(ctx)
	}
	result, err, _ := c.group.Do(key, func() (interface{}, error) {
		level, err := loader(ctx)
		if err != nil {
			return StockLevel{}, err
		}
		if raw, err := json.Marshal(level); err == nil {
			_ = c.client.Set(ctx, key, raw, c.ttl).Err()
		}
		return level, nil
	})
	if err != nil {
		return StockLevel{}, err
	}
	return result.(StockLevel), nil
}

// Invalidate drops cached levels for the given products.
func (c *StockCache) Invalidate(ctx context.Context, businessID int64, productIDs ...int64) error {
	if c == nil || c.client == nil || len(productIDs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		keys = append(keys, stockKey(businessID, id))
	}
	return c.client.Del(ctx, keys...).Err()
}
