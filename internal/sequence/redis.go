package sequence

import (
	"context"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisCounter uses INCR, which is atomic on the server.
type RedisCounter struct {
	client *redis.Client
	prefix string
}

// NewRedisCounter constructs RedisCounter.
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{client: client, prefix: "seq"}
}

func (c *RedisCounter) key(businessID int64, docType DocumentType) string {
	return c.prefix + ":" + strconv.FormatInt(businessID, 10) + ":" + string(docType)
}

// Increment implements Counter.
func (c *RedisCounter) Increment(ctx context.Context, businessID int64, docType DocumentType) (int64, error) {
	return c.client.Incr(ctx, c.key(businessID, docType)).Result()
}

// seedScript raises KEYS[1] to ARGV[1] unless it is already at or above it.
var seedScript = redis.NewScript(`
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
local floor = tonumber(ARGV[1])
if current < floor then
	redis.call("SET", KEYS[1], floor)
	return floor
end
return current
`)

// Seed raises the counter to at least floor, used when moving an existing
// business from the Postgres counter. It runs as one script so a concurrent
// Increment is never lost.
func (c *RedisCounter) Seed(ctx context.Context, businessID int64, docType DocumentType, floor int64) error {
	return seedScript.Run(ctx, c.client, []string{c.key(businessID, docType)}, floor).Err()
}
