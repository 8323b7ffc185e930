package middleware

import (
	"github.com/gofiber/fiber/v2"

	"shadowrealms_backend/pkg/logging"
)

// Authorizer checks the shared admin secret.
type Authorizer interface {
	Authorize(secret string) error
}

// AdminAuth reads the secret from the password query parameter.
func AdminAuth(auth Authorizer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := auth.Authorize(c.Query("password")); err != nil {
			logging.Module("http").Warn().
				Str("ip", c.IP()).
				Str("path", c.Path()).
				Msg("unauthorized admin request")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Unauthorized",
			})
		}
		return c.Next()
	}
}
