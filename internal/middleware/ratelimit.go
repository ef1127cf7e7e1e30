package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// PointRateLimit caps mutations per user id (the :id route param) in a
// one-minute window opened by the first request. Ids are compared by value,
// so 1, 01 and +1 share a window. A non-integer id is left for the handler to
// reject. It is a no-op without Redis or with a non-positive limit, and fails
// open on cache errors.
func PointRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cache == nil || maxPerMin <= 0 {
			return c.Next()
		}
		id, err := strconv.ParseInt(c.Params("id"), 10, 64)
		if err != nil {
			return c.Next()
		}
		route := c.Route().Path
		key := "rl:point:" + strconv.FormatInt(id, 10)

		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			c.Set("X-RateLimit-Error", "redis-error")
			return c.Next()
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		rateLimitRequests.WithLabelValues(route).Inc()

		if cnt > int64(maxPerMin) {
			rateLimitBlocked.WithLabelValues(route).Inc()
			return fiber.NewError(http.StatusTooManyRequests, "too many point requests, try again later")
		}
		return c.Next()
	}
}
