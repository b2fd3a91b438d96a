package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/urbantrack/brt-core/internal/auth"
)

// RateLimitMiddleware enforces a per-second fairness limit per rider,
// adapted from the donor's multi-window (second/day/month) partner-billing
// limiter (internal/middleware/ratelimit.go) down to the one window this
// module's non-billed, rider-scoped endpoints need: keeping a single rider
// from saturating the ingestion/planning endpoints.
func RateLimitMiddleware(rdb *redis.Client, perSecond int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		rider, ok := c.Locals("rider").(*auth.RiderContext)
		if !ok {
			return c.Next()
		}

		ctx := context.Background()
		now := time.Now()
		key := fmt.Sprintf("rl:rider:%d:second:%d", rider.RiderID, now.Unix())

		count, err := rdb.Incr(ctx, key).Result()
		if err == nil {
			rdb.Expire(ctx, key, 2*time.Second)

			if count > int64(perSecond) {
				c.Set("X-RateLimit-Limit", strconv.Itoa(perSecond))
				c.Set("X-RateLimit-Remaining", "0")
				c.Set("Retry-After", "1")

				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
					"error":       "rate_limit_exceeded",
					"message":     "too many requests, slow down",
					"retry_after": 1,
				})
			}

			c.Set("X-RateLimit-Limit", strconv.Itoa(perSecond))
			c.Set("X-RateLimit-Remaining", strconv.FormatInt(int64(perSecond)-count, 10))
		}

		return c.Next()
	}
}
