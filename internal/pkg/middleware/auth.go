package middleware

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// UserIDLocalKey is where RequireUser stores the authenticated user id.
const UserIDLocalKey = "user_id"

// RequireUser extracts the authenticated user id injected by the upstream
// HTTP layer (session handling lives there, not in this service). Command
// routes reject requests without it; the webhook route authenticates by
// signature instead and never uses this middleware.
func RequireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := strings.TrimSpace(c.Get("X-User-ID"))
		if raw == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		c.Locals(UserIDLocalKey, uint(id))
		return c.Next()
	}
}

// UserID returns the authenticated user id set by RequireUser.
func UserID(c *fiber.Ctx) uint {
	if id, ok := c.Locals(UserIDLocalKey).(uint); ok {
		return id
	}
	return 0
}
