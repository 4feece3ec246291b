package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/msplit/msplit/internal/groups"
)

// RegisterGroupRoutes wires the read-only group list behind the access token.
func RegisterGroupRoutes(r fiber.Router, h *groups.Handler, sessionToken fiber.Handler) {
	r.Get("/groups", sessionToken, h.List)
}
