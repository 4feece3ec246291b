package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/msplit/msplit/internal/identity"
)

// RegisterIdentityRoutes wires profile and session endpoints. Each requires
// the device's current access token.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler, sessionToken fiber.Handler) {
	r.Get("/profile", sessionToken, h.Profile)
	r.Post("/session/refresh", sessionToken, h.RefreshSession)
	r.Post("/session/revoke-others", sessionToken, h.RevokeOtherDevices)
}
