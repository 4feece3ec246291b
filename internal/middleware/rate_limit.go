package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/msplit/msplit/internal/ratelimit"
)

// ContactFunc names the account a PIN attempt targets. An empty result means
// the contact is unknown and only the per-IP limit applies.
type ContactFunc func(c *fiber.Ctx) string

// PhoneFromBody reads the "phone" field of a JSON body.
func PhoneFromBody(c *fiber.Ctx) string {
	var req struct {
		Phone string `json:"phone"`
	}
	_ = c.BodyParser(&req)
	return strings.TrimSpace(req.Phone)
}

// LoginRateLimit limits PIN attempts per targeted contact and, when perIP is
// set, per client IP. Neither key involves the device ID, so rotating
// X-Device-ID does not reset the window. Limiter errors fail open.
func LoginRateLimit(perContact, perIP ratelimit.Limiter, contactFor ContactFunc, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		if perIP != nil {
			allowed, err := perIP.Allow(ctx, "ip:"+c.IP())
			if err != nil {
				logger.Warn("login rate limiter unavailable", slog.String("scope", "ip"), slog.Any("error", err))
			} else if !allowed {
				return tooManyAttempts()
			}
		}

		contact := ""
		if contactFor != nil {
			contact = contactFor(c)
		}
		if contact == "" || perContact == nil {
			return c.Next()
		}
		allowed, err := perContact.Allow(ctx, "phone:"+contact)
		if err != nil {
			logger.Warn("login rate limiter unavailable", slog.String("scope", "contact"), slog.Any("error", err))
			return c.Next()
		}
		if !allowed {
			return tooManyAttempts()
		}
		return c.Next()
	}
}

func tooManyAttempts() error {
	return fiber.NewError(http.StatusTooManyRequests, "Too many requests. Please wait a moment and try again.")
}
