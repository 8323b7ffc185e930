package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"shadowrealms_backend/pkg/logging"
)

// RateLimit allows max requests per client IP in each fixed window. Counters
// live in process memory, so every instance counts on its own.
func RateLimit(max int, window time.Duration, message string) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			logging.Module("http").Warn().
				Str("ip", c.IP()).
				Str("path", c.Path()).
				Msg("rate limit reached")
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"error":   "RATE_LIMITED",
				"message": message,
			})
		},
	})
}
