package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/noah-isme/kabar-go-api/internal/utils"
)

// RateLimit limits a route per authenticated user, falling back to the
// client IP for unauthenticated traffic. identifier keeps counters of
// different routes apart when several limiters are mounted.
func RateLimit(identifier string, max int, window time.Duration) fiber.Handler {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = time.Second
	}

	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: func(c *fiber.Ctx) string {
			key := c.IP()
			if userID, ok := c.Locals("user_id").(string); ok && userID != "" {
				key = userID
			}
			return fmt.Sprintf("%s:%s", identifier, key)
		},
		LimitReached: func(c *fiber.Ctx) error {
			return utils.SendError(c, fiber.StatusTooManyRequests, "rate limit exceeded, slow down")
		},
	})
}
