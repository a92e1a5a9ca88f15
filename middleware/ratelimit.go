// middleware/ratelimit.go
package middleware

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimitMiddleware is a fixed-window per-user limiter backed by redis so
// the counter survives restarts and is shared across instances. A nil client
// disables it (the service degrades rather than refusing to boot without
// redis).
func RateLimitMiddleware(rdb *redis.Client) fiber.Handler {
	limit := 60
	if v := os.Getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	return func(c *fiber.Ctx) error {
		if rdb == nil {
			return c.Next()
		}

		id := c.Get("X-User-ID")
		if id == "" {
			id = c.IP()
		}
		now := time.Now().Unix()
		key := fmt.Sprintf("ratelimit:%s:%d", id, now/60)

		n, err := rdb.Incr(c.Context(), key).Result()
		if err != nil {
			// Redis down: let the request through rather than fail closed.
			log.Printf("⚠️  [RATE_LIMIT] redis error, skipping limit: %v", err)
			return c.Next()
		}
		if n == 1 {
			rdb.Expire(c.Context(), key, 2*time.Minute)
		}
		if n > int64(limit) {
			retryAfter := 60 - now%60
			c.Set("Retry-After", strconv.FormatInt(retryAfter, 10))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":      "too many requests",
				"retryAfter": retryAfter,
			})
		}
		return c.Next()
	}
}
