package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/msplit/msplit/internal/auth"
	"github.com/msplit/msplit/internal/identity"
)

// IdentityIDLocal holds the identity ID of a verified bearer token.
const IdentityIDLocal = "identity_id"

// SessionLookup returns a device's live session, or nil when signed out.
type SessionLookup interface {
	CurrentSession(ctx context.Context, deviceID string) (*identity.Session, error)
}

// SessionToken validates the bearer access token. The token must belong to
// the calling device and to its current session, so a revoked or replaced
// session stops working immediately.
func SessionToken(tokens *auth.Issuer, sessions SessionLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		claims, err := tokens.Parse(strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}

		deviceID := DeviceIDFrom(c)
		if claims.DeviceID != deviceID {
			return fiber.NewError(http.StatusUnauthorized, "token issued to another device")
		}
		sess, err := sessions.CurrentSession(c.UserContext(), deviceID)
		if err != nil {
			return fiber.NewError(http.StatusServiceUnavailable, "session store unavailable")
		}
		if sess == nil || sess.ID != claims.SessionID {
			return fiber.NewError(http.StatusUnauthorized, "session ended")
		}

		c.Locals(IdentityIDLocal, claims.Subject)
		return c.Next()
	}
}

// IdentityIDFrom returns the identity ID set by SessionToken.
func IdentityIDFrom(c *fiber.Ctx) string {
	id, _ := c.Locals(IdentityIDLocal).(string)
	return id
}
