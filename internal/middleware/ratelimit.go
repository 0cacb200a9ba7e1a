package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// RateLimitMiddleware throttles lifecycle calls per caller identity. The
// window state lives in redis so every API instance shares one view; limit
// and window are injected rather than compiled in.
func RateLimitMiddleware(rdb *redis.Client, limit int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		caller := GetAgentID(c)
		if caller == "" {
			caller = c.IP()
		}
		key := fmt.Sprintf("rl:%s", caller)

		count, err := rdb.Incr(c.Context(), key).Result()
		if err != nil {
			return c.Next() // fail open
		}

		if count == 1 {
			rdb.Expire(c.Context(), key, window)
		}

		if count > int64(limit) {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "rate limit exceeded",
			})
		}

		return c.Next()
	}
}
